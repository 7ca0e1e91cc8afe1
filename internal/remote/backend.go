package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"deepfrog/internal/httpclient"
	"deepfrog/internal/logger"
	"deepfrog/internal/pipeline"
	"deepfrog/internal/trace"
)

const (
	DefaultEndpoint     = "https://api-inference.huggingface.co"
	DefaultHubEndpoint  = "https://huggingface.co"
	tokenClassification = "token-classification"
	defaultLoadAttempts = 5
	maxLoadDelay        = 20 * time.Second
	maxErrorBody        = 512
)

var ErrModelLoading = errors.New("model is still loading")

// Config of the hosted API. HubEndpoint serves the model metadata checked by
// Load.
type Config struct {
	Endpoint     string
	HubEndpoint  string
	Token        string
	Timeout      time.Duration
	RetryMax     int
	WaitForModel bool
	LoadAttempts uint

	// LoadDelay is the wait between loading retries when the server gives
	// no estimate.
	LoadDelay time.Duration
	Client    *retryablehttp.Client
}

// Backend calls a hosted token classification API.
type Backend struct {
	cfg    Config
	client *retryablehttp.Client
	log    *logrus.Logger
}

var _ pipeline.Backend = (*Backend)(nil)

func NewBackend(cfg Config) *Backend {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.HubEndpoint == "" {
		cfg.HubEndpoint = DefaultHubEndpoint
	}
	cfg.HubEndpoint = strings.TrimRight(cfg.HubEndpoint, "/")
	if cfg.LoadAttempts == 0 {
		cfg.LoadAttempts = defaultLoadAttempts
	}
	if cfg.LoadDelay <= 0 {
		cfg.LoadDelay = time.Second
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = httpclient.DefaultTimeout
		}
		client = httpclient.New(httpclient.Options{
			RetryMax:   cfg.RetryMax,
			Timeout:    timeout,
			CheckRetry: retryPolicy,
		})
	}
	return &Backend{cfg: cfg, client: client, log: logger.GetLogger()}
}

// retryPolicy leaves 503 to the model loading loop.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.StatusCode == http.StatusServiceUnavailable {
		return false, nil
	}
	return httpclient.RetryPolicy(ctx, resp, err)
}

func (b *Backend) Name() string {
	return "remote"
}

// Load checks that the model exists on the hub and is a token
// classification model. The hosted API loads it on the first inference call.
func (b *Backend) Load(ctx context.Context, req pipeline.Request) error {
	if _, err := url.ParseRequestURI(b.cfg.Endpoint); err != nil {
		return pipeline.NewResolutionError(req.Model, fmt.Errorf("invalid inference endpoint: %w", err))
	}
	if tok := req.TokenizerID(); tok != req.Model {
		b.log.WithFields(logrus.Fields{"model": req.Model, "tokenizer": tok}).
			Warn("hosted inference uses the model's own tokenizer; ignoring tokenizer")
	}
	if req.Revision != "" && req.Revision != "main" {
		b.log.WithField("revision", req.Revision).Warn("hosted inference serves the default revision only")
	}
	return b.lookupModel(ctx, req.Model)
}

type modelInfo struct {
	ID          string `json:"id"`
	PipelineTag string `json:"pipeline_tag"`
}

// lookupModel resolves model through GET <hub>/api/models/<model>.
func (b *Backend) lookupModel(ctx context.Context, model string) error {
	if strings.TrimSpace(model) == "" {
		return pipeline.NewResolutionError(model, errors.New("empty model id"))
	}
	endpoint := b.cfg.HubEndpoint + "/api/models/" + strings.Trim(model, "/")
	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return pipeline.NewResolutionError(model, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if b.cfg.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.cfg.Token)
	}
	resp, err := b.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return pipeline.NewResolutionError(model, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return pipeline.NewResolutionError(model, fmt.Errorf("read model info: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return pipeline.NewResolutionError(model,
			fmt.Errorf("hub returned %d: %s", resp.StatusCode, errorMessage(parseError(body), body)))
	}

	var info modelInfo
	if err := json.Unmarshal(body, &info); err != nil {
		b.log.WithField("model", model).Debugf("undecodable model info: %v", err)
		return nil
	}
	if info.PipelineTag != "" && info.PipelineTag != tokenClassification {
		return pipeline.NewLoadError(model,
			fmt.Errorf("model is a %s model, not %s", info.PipelineTag, tokenClassification))
	}
	return nil
}

type inferRequest struct {
	Inputs     string          `json:"inputs"`
	Parameters inferParameters `json:"parameters"`
	Options    inferOptions    `json:"options"`
}

type inferParameters struct {
	AggregationStrategy string `json:"aggregation_strategy"`
}

type inferOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

type apiRecord struct {
	Entity      string  `json:"entity"`
	EntityGroup string  `json:"entity_group"`
	Score       float64 `json:"score"`
	Index       int     `json:"index"`
	Word        string  `json:"word"`
	Start       *int    `json:"start"`
	End         *int    `json:"end"`
}

type apiError struct {
	Error         json.RawMessage `json:"error"`
	EstimatedTime float64         `json:"estimated_time"`
}

// loadingError is the retryable 503 answer of a model that is warming up.
type loadingError struct {
	estimate time.Duration
	message  string
}

func (e *loadingError) Error() string {
	return fmt.Sprintf("%s (estimated %s)", e.message, e.estimate.Round(time.Second))
}

func (e *loadingError) Unwrap() error {
	return ErrModelLoading
}

func (b *Backend) Infer(ctx context.Context, req pipeline.Request) ([]pipeline.Record, error) {
	done := trace.Mark(ctx, trace.StageInfer)
	defer done()

	payload, err := json.Marshal(inferRequest{
		Inputs:     req.Text,
		Parameters: inferParameters{AggregationStrategy: "none"},
		Options:    inferOptions{WaitForModel: b.cfg.WaitForModel},
	})
	if err != nil {
		return nil, err
	}
	endpoint := b.cfg.Endpoint + "/models/" + req.Model

	var records []pipeline.Record
	err = retry.Do(
		func() error {
			var err error
			records, err = b.call(ctx, endpoint, req.Model, payload)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(b.cfg.LoadAttempts),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ErrModelLoading)
		}),
		retry.DelayType(b.loadDelay),
		retry.OnRetry(func(n uint, err error) {
			b.log.WithField("model", req.Model).Infof("waiting for model, attempt #%d: %v", n+1, err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (b *Backend) loadDelay(_ uint, err error, _ *retry.Config) time.Duration {
	var le *loadingError
	if errors.As(err, &le) && le.estimate > 0 {
		if le.estimate > maxLoadDelay {
			return maxLoadDelay
		}
		return le.estimate
	}
	return b.cfg.LoadDelay
}

func (b *Backend) call(ctx context.Context, endpoint, model string, payload []byte) ([]pipeline.Record, error) {
	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, pipeline.NewResolutionError(model, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if b.cfg.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.cfg.Token)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, pipeline.NewResolutionError(model, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read inference response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return decodeRecords(body)
	case resp.StatusCode == http.StatusServiceUnavailable:
		apiErr := parseError(body)
		if apiErr.EstimatedTime > 0 {
			return nil, &loadingError{
				estimate: time.Duration(apiErr.EstimatedTime * float64(time.Second)),
				message:  errorMessage(apiErr, body),
			}
		}
		return nil, fmt.Errorf("inference API unavailable: %s", errorMessage(apiErr, body))
	case resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return nil, pipeline.NewResolutionError(model,
			fmt.Errorf("inference API returned %d: %s", resp.StatusCode, errorMessage(parseError(body), body)))
	case resp.StatusCode == http.StatusBadRequest:
		return nil, pipeline.NewLoadError(model,
			fmt.Errorf("inference API rejected the request: %s", errorMessage(parseError(body), body)))
	default:
		return nil, fmt.Errorf("inference API returned %d: %s", resp.StatusCode, errorMessage(parseError(body), body))
	}
}

func decodeRecords(body []byte) ([]pipeline.Record, error) {
	var items []apiRecord
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decode inference response: %w", err)
	}
	out := make([]pipeline.Record, 0, len(items))
	for _, it := range items {
		r := pipeline.Record{
			Entity:      it.Entity,
			EntityGroup: it.EntityGroup,
			Score:       it.Score,
			Index:       it.Index,
			Word:        it.Word,
			Subword:     strings.HasPrefix(it.Word, "##"),
		}
		if it.Start != nil {
			r.Start = *it.Start
		}
		if it.End != nil {
			r.End = *it.End
		}
		// Grouped answers carry the label in entity_group only.
		if r.Entity == "" {
			r.Entity = r.EntityGroup
			r.EntityGroup = ""
		}
		out = append(out, r)
	}
	return out, nil
}

func parseError(body []byte) apiError {
	var e apiError
	_ = json.Unmarshal(body, &e)
	return e
}

// errorMessage renders the API's error field, which is either a string or
// a list of strings, falling back to the raw body.
func errorMessage(e apiError, body []byte) string {
	if len(e.Error) > 0 {
		var s string
		if err := json.Unmarshal(e.Error, &s); err == nil {
			return s
		}
		var list []string
		if err := json.Unmarshal(e.Error, &list); err == nil {
			return strings.Join(list, "; ")
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}
	if msg == "" {
		msg = "empty response"
	}
	return msg
}

func (b *Backend) Close() error {
	b.client.HTTPClient.CloseIdleConnections()
	return nil
}
