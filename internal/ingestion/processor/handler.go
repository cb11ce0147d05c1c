package processor

import (
	types "github.com/yungbote/botforge-backend/internal/domain/jobs"
	"github.com/yungbote/botforge-backend/internal/jobs/runtime"
)

// Register adds one handler per ingestion job type. All three share ProcessSource,
// which dispatches on the source's type.
func (p *Processor) Register(reg *runtime.Registry) error {
	run := func(jc *runtime.Context) error {
		_, err := p.ProcessSource(jc)
		return err
	}
	hs := make([]runtime.Handler, 0, len(types.AllTypes))
	for _, t := range types.AllTypes {
		hs = append(hs, runtime.HandlerFunc{JobType: t, Fn: run})
	}
	return reg.Register(hs...)
}
