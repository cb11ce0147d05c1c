package processor

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/botforge-backend/internal/domain/sources"
)

const stagesEnv = "INGEST_STAGES_YAML"

const (
	StepStarting       = "starting"
	StepProcessingText = "processing_text"
	StepDownloading    = "downloading_file"
	StepExtracting     = "extracting_content"
	StepCrawling       = "crawling_website"
	StepChunking       = "chunking_content"
	StepEmbedding      = "generating_embeddings"
	StepStoring        = "storing_vectors"
	StepFinalizing     = "finalizing"
	StepCompleted      = "completed"
)

//go:embed stages.yaml
var stagesFS embed.FS

type Stage struct {
	Step  string  `yaml:"step"`
	Start float64 `yaml:"start"`
	End   float64 `yaml:"end"`
}

type yamlStagePlan struct {
	Pipeline string             `yaml:"pipeline"`
	Version  int                `yaml:"version"`
	Plans    map[string][]Stage `yaml:"plans"`
}

// StagePlan maps each source type to its ordered progress bands.
type StagePlan struct {
	plans map[sources.SourceType]map[string]Stage
}

var fallbackPlans = map[string][]Stage{
	string(sources.TypeText): {
		{StepProcessingText, 20, 20}, {StepChunking, 40, 40}, {StepEmbedding, 50, 85},
		{StepStoring, 85, 90}, {StepFinalizing, 90, 95},
	},
	string(sources.TypeFile): {
		{StepDownloading, 10, 10}, {StepExtracting, 30, 30}, {StepChunking, 50, 50},
		{StepEmbedding, 70, 85}, {StepStoring, 85, 90}, {StepFinalizing, 90, 95},
	},
	string(sources.TypeWebsite): {
		{StepCrawling, 20, 50}, {StepChunking, 60, 60}, {StepEmbedding, 70, 85},
		{StepStoring, 85, 90}, {StepFinalizing, 90, 95},
	},
}

// LoadStagePlan reads INGEST_STAGES_YAML when set, otherwise the embedded plan.
func LoadStagePlan() (*StagePlan, error) {
	var (
		data []byte
		err  error
	)
	if path := strings.TrimSpace(os.Getenv(stagesEnv)); path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = stagesFS.ReadFile("stages.yaml")
	}
	if err != nil {
		return nil, err
	}
	return ParseStagePlan(data)
}

func ParseStagePlan(data []byte) (*StagePlan, error) {
	var spec yamlStagePlan
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, err
	}
	if strings.TrimSpace(spec.Pipeline) != "source_ingest" {
		return nil, fmt.Errorf("unexpected pipeline: %s", spec.Pipeline)
	}
	if len(spec.Plans) == 0 {
		return nil, errors.New("no plans defined")
	}
	return buildPlan(spec.Plans)
}

// DefaultStagePlan is used when the configured plan cannot be loaded.
func DefaultStagePlan() *StagePlan {
	p, _ := buildPlan(fallbackPlans)
	return p
}

func buildPlan(raw map[string][]Stage) (*StagePlan, error) {
	out := &StagePlan{plans: make(map[sources.SourceType]map[string]Stage, len(raw))}
	for typ, stages := range raw {
		st := sources.SourceType(strings.TrimSpace(typ))
		switch st {
		case sources.TypeText, sources.TypeFile, sources.TypeWebsite:
		default:
			return nil, fmt.Errorf("unknown source type in plan: %s", typ)
		}
		byStep := make(map[string]Stage, len(stages))
		last := 0.0
		for _, s := range stages {
			if s.Step == "" {
				return nil, fmt.Errorf("%s: stage step is required", typ)
			}
			if _, dup := byStep[s.Step]; dup {
				return nil, fmt.Errorf("%s: duplicate stage %s", typ, s.Step)
			}
			if s.Start < last || s.End < s.Start || s.End >= 100 {
				return nil, fmt.Errorf("%s: stage %s band %.0f-%.0f is out of order", typ, s.Step, s.Start, s.End)
			}
			last = s.End
			byStep[s.Step] = s
		}
		out.plans[st] = byStep
	}
	for _, st := range []sources.SourceType{sources.TypeText, sources.TypeFile, sources.TypeWebsite} {
		if _, ok := out.plans[st]; !ok {
			return nil, fmt.Errorf("missing plan for %s", st)
		}
	}
	return out, nil
}

// Percent interpolates the band for step; frac is clamped to [0,1]. Unknown steps
// report 0.
func (p *StagePlan) Percent(st sources.SourceType, step string, frac float64) float64 {
	switch step {
	case StepStarting:
		return 0
	case StepCompleted:
		return 100
	}
	s, ok := p.plans[st][step]
	if !ok {
		return 0
	}
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return s.Start + (s.End-s.Start)*frac
}
