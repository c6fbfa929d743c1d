package provider

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"aihub/internal/clock"
	"aihub/internal/domain"
	"aihub/internal/transport"
)

const (
	ComfyUIBackendID = "comfyui"

	comfyDefaultBase     = "http://localhost:8188"
	comfyDefaultModel    = "v1-5-pruned-emaonly.ckpt"
	comfyDefaultSteps    = 20
	comfyDefaultCfg      = 7.0
	comfyDefaultSampler  = "euler"
	comfyDefaultSize     = 512
	comfyDefaultNegative = "bad quality, blurry"
	comfyMaxSeed         = 1_000_000

	comfyDefaultPoll    = time.Second
	comfyDefaultMaxWait = 5 * time.Minute
)

type ComfyUIConfig struct {
	APIBase      string
	Negative     string
	PollInterval time.Duration
	MaxWait      time.Duration
	Timeout      time.Duration // per HTTP call
	Workflow     *Workflow
	Clock        clock.Clock
	Client       *http.Client
	Logger       *slog.Logger
}

// ComfyUI is the image-synthesis adapter. A job is queued with POST /prompt
// and its history polled until it produces images, fails, or runs out of
// time.
type ComfyUI struct {
	client       *transport.Client
	negative     string
	pollInterval time.Duration
	maxWait      time.Duration
	workflow     *Workflow
	clock        clock.Clock
	clientID     string
	logger       *slog.Logger
}

func NewComfyUI(cfg ComfyUIConfig) *ComfyUI {
	if cfg.APIBase == "" {
		cfg.APIBase = comfyDefaultBase
	}
	if cfg.Negative == "" {
		cfg.Negative = comfyDefaultNegative
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = comfyDefaultPoll
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = comfyDefaultMaxWait
	}
	if cfg.Workflow == nil {
		cfg.Workflow = DefaultWorkflow()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ComfyUI{
		client: transport.New(transport.Config{
			BaseURL: cfg.APIBase,
			Timeout: cfg.Timeout,
			Client:  cfg.Client,
			Logger:  cfg.Logger,
		}),
		negative:     cfg.Negative,
		pollInterval: cfg.PollInterval,
		maxWait:      cfg.MaxWait,
		workflow:     cfg.Workflow,
		clock:        cfg.Clock,
		clientID:     uuid.NewString(),
		logger:       cfg.Logger,
	}
}

func (c *ComfyUI) ID() string { return ComfyUIBackendID }

func (c *ComfyUI) BaseURL() string { return c.client.BaseURL() }

func (c *ComfyUI) Probe(ctx context.Context) domain.Outcome[domain.Unit] {
	return c.client.Ping(ctx, "/system_stats")
}

// ResolveSettings fills zero-valued settings with defaults and picks a
// random seed when none was given.
func ResolveSettings(s domain.SynthesisSettings) domain.SynthesisSettings {
	if s.Model == "" {
		s.Model = comfyDefaultModel
	}
	if s.Steps <= 0 {
		s.Steps = comfyDefaultSteps
	}
	if s.CfgScale <= 0 {
		s.CfgScale = comfyDefaultCfg
	}
	if s.Sampler == "" {
		s.Sampler = comfyDefaultSampler
	}
	if s.Width <= 0 {
		s.Width = comfyDefaultSize
	}
	if s.Height <= 0 {
		s.Height = comfyDefaultSize
	}
	if s.Seed <= 0 {
		s.Seed = rand.Int64N(comfyMaxSeed-1) + 1
	}
	return s
}

type comfyQueueResponse struct {
	PromptID   string         `json:"prompt_id"`
	Number     int            `json:"number"`
	NodeErrors map[string]any `json:"node_errors"`
	Error      any            `json:"error"`
}

type comfyImage struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type comfyHistoryEntry struct {
	Status struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
		Messages  []any  `json:"messages"`
	} `json:"status"`
	Outputs map[string]struct {
		Images []comfyImage `json:"images"`
	} `json:"outputs"`
}

func (c *ComfyUI) Invoke(ctx context.Context, req domain.SynthesisRequest) domain.Outcome[domain.SynthesisResult] {
	settings := ResolveSettings(req.Settings)
	graph := c.workflow.Render(map[string]any{
		"prompt":   req.Prompt,
		"negative": c.negative,
		"model":    settings.Model,
		"steps":    settings.Steps,
		"cfg":      settings.CfgScale,
		"sampler":  settings.Sampler,
		"width":    settings.Width,
		"height":   settings.Height,
		"seed":     settings.Seed,
	})

	queued := transport.Decode[comfyQueueResponse](c.client.Request(ctx, "/prompt", http.MethodPost,
		map[string]any{"prompt": graph, "client_id": c.clientID}, nil))
	if !queued.OK {
		c.logger.Warn("comfyui queue failed", "kind", queued.Kind, "err", queued.Message)
		return domain.Recast[domain.SynthesisResult](queued)
	}
	if queued.Value.Error != nil || len(queued.Value.NodeErrors) > 0 {
		return domain.Failure[domain.SynthesisResult](domain.ErrBackendRejected,
			"workflow rejected: %v", firstNonNil(queued.Value.Error, queued.Value.NodeErrors))
	}
	jobID := queued.Value.PromptID
	if jobID == "" {
		return domain.Failure[domain.SynthesisResult](domain.ErrBackendRejected, "%s", "queue response carried no prompt_id")
	}
	c.logger.Info("comfyui job queued", "job", jobID, "seed", settings.Seed, "model", settings.Model)

	images := c.await(ctx, jobID)
	if !images.OK {
		return domain.Recast[domain.SynthesisResult](images)
	}
	return domain.Success(domain.SynthesisResult{
		JobID:  jobID,
		Images: images.Value,
		Seed:   settings.Seed,
	})
}

// await polls the job history at a fixed interval against the adapter clock.
func (c *ComfyUI) await(ctx context.Context, jobID string) domain.Outcome[[]string] {
	deadline := c.clock.Now().Add(c.maxWait)
	polls := 0
	for {
		polls++
		out := transport.Decode[map[string]comfyHistoryEntry](
			c.client.Request(ctx, "/history/"+url.PathEscape(jobID), http.MethodGet, nil, nil),
		)
		if !out.OK {
			return domain.Recast[[]string](out)
		}

		if entry, ok := out.Value[jobID]; ok {
			if strings.EqualFold(entry.Status.StatusStr, "error") {
				return domain.Failure[[]string](domain.ErrBackendRejected, "job %s failed", jobID)
			}
			if locators := c.locators(entry); len(locators) > 0 || entry.Status.Completed {
				c.logger.Debug("comfyui job finished", "job", jobID, "images", len(locators), "polls", polls)
				if len(locators) == 0 {
					return domain.Failure[[]string](domain.ErrBackendRejected, "job %s produced no images", jobID)
				}
				return domain.Success(locators)
			}
		}

		if !c.clock.Now().Before(deadline) {
			c.logger.Warn("comfyui job timed out", "job", jobID, "max_wait", c.maxWait)
			return domain.Failure[[]string](domain.ErrTimeout, "job %s did not finish within %s", jobID, c.maxWait)
		}
		select {
		case <-ctx.Done():
			return domain.Failure[[]string](domain.ErrNetwork, "job %s: %v", jobID, ctx.Err())
		case <-c.clock.After(c.pollInterval):
		}
	}
}

// locators builds /view URLs for every output image, ordered by node id.
func (c *ComfyUI) locators(entry comfyHistoryEntry) []string {
	nodeIDs := make([]string, 0, len(entry.Outputs))
	for id := range entry.Outputs {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	var out []string
	for _, id := range nodeIDs {
		for _, img := range entry.Outputs[id].Images {
			q := url.Values{}
			q.Set("filename", img.Filename)
			q.Set("subfolder", img.Subfolder)
			q.Set("type", img.Type)
			out = append(out, c.client.URL("/view?"+q.Encode()))
		}
	}
	return out
}

func firstNonNil(vals ...any) any {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
