package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"angelscout/internal/investor"
	"angelscout/internal/logging"
	"angelscout/internal/metrics"
)

// Defaults for the Gemini adapter.
const (
	DefaultModel      = "gemini-2.5-flash"
	DefaultMaxResults = 20
	DefaultTimeout    = 90 * time.Second
)

const systemInstruction = `You are a research assistant that finds real angel investors.
Answer only with JSON matching the response schema. Never invent contact details;
omit any field you are not confident about.`

// Generator is the slice of the genai client the adapter calls.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig configures the Gemini adapter.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxResults  int
	Timeout     time.Duration
}

// Gemini asks a Gemini model for investor candidates.
type Gemini struct {
	gen     Generator
	cfg     GeminiConfig
	metrics *metrics.Metrics
	log     *logging.Logger
}

// NewGemini creates a genai client for cfg.APIKey.
func NewGemini(ctx context.Context, cfg GeminiConfig, m *metrics.Metrics) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return NewGeminiWithGenerator(client.Models, cfg, m), nil
}

// NewGeminiWithGenerator wires an existing generator; tests pass a fake.
func NewGeminiWithGenerator(gen Generator, cfg GeminiConfig, m *metrics.Metrics) *Gemini {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Gemini{gen: gen, cfg: cfg, metrics: m, log: logging.Get(logging.CategorySource)}
}

// Label is the provenance label stamped on unlabeled candidates.
func (g *Gemini) Label() string { return "gemini:" + g.cfg.Model }

// FetchCandidates implements Adapter.
func (g *Gemini) FetchCandidates(ctx context.Context, query string) []investor.Candidate {
	timer := logging.StartTimer(logging.CategorySource, "gemini.FetchCandidates")
	defer timer.StopWithThreshold(10 * time.Second)

	prompt := fmt.Sprintf(`List up to %d angel investors who would be a strong fit for this startup or search:

%q

For each investor include name, a short bio, an extended biography, location,
interests (sector tags), contact links and an investment profile.`, g.cfg.MaxResults, query)

	text, err := g.generate(ctx, prompt, candidateListSchema())
	if err != nil {
		g.log.Zap().Warn("candidate generation failed", zap.String("query", query), zap.Error(err))
		return []investor.Candidate{}
	}
	raw, err := ParseCandidates(text)
	if err != nil {
		g.log.Zap().Warn("candidate response unparseable",
			zap.String("query", query), zap.Int("bytes", len(text)), zap.Error(err))
		return []investor.Candidate{}
	}
	candidates, missing := Sanitize(raw, g.Label())
	if missing > 0 {
		g.log.Warn("%d of %d candidates for %q have no name", missing, len(candidates), query)
	}
	if len(candidates) > g.cfg.MaxResults {
		candidates = candidates[:g.cfg.MaxResults]
	}
	g.metrics.CandidatesFetched(len(candidates))
	g.log.Info("gemini returned %d candidates for %q", len(candidates), query)
	return candidates
}

// FetchProfile asks for a detailed profile of one named investor.
func (g *Gemini) FetchProfile(ctx context.Context, name string) (investor.Candidate, error) {
	prompt := fmt.Sprintf(`Give a detailed investor profile for the angel investor %q:
extended biography, interests, contact links and the full investment profile.`, name)

	text, err := g.generate(ctx, prompt, candidateSchema())
	if err != nil {
		return investor.Candidate{}, err
	}
	raw, err := ParseCandidates(text)
	if err != nil {
		return investor.Candidate{}, err
	}
	found, _ := Sanitize(raw, g.Label())
	if len(found) == 0 {
		return investor.Candidate{}, errors.New("model returned no profile")
	}
	c := found[0]
	c.Name = name
	return c, nil
}

func (g *Gemini) generate(ctx context.Context, prompt string, schema *genai.Schema) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    schema,
	}
	if g.cfg.Temperature > 0 {
		cfg.Temperature = genai.Ptr(g.cfg.Temperature)
	}
	resp, err := g.gen.GenerateContent(ctx, g.cfg.Model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}
	if resp == nil {
		return "", errors.New("empty GenAI response")
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("empty GenAI response")
	}
	return text, nil
}

func str() *genai.Schema { return &genai.Schema{Type: genai.TypeString} }

func strList() *genai.Schema {
	return &genai.Schema{Type: genai.TypeArray, Items: str()}
}

func candidateSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"name":        str(),
			"bio":         str(),
			"extendedBio": str(),
			"location":    str(),
			"imageUrl":    str(),
			"interests":   strList(),
			"source":      str(),
			"contact": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"email":    str(),
					"linkedin": str(),
					"twitter":  str(),
					"website":  str(),
					"other":    strList(),
				},
			},
			"profile": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"stages": strList(),
					"checkSize": {
						Type: genai.TypeObject,
						Properties: map[string]*genai.Schema{
							"min":      {Type: genai.TypeInteger},
							"max":      {Type: genai.TypeInteger},
							"currency": str(),
						},
					},
					"geographicFocus":      strList(),
					"portfolioCompanies":   strList(),
					"investmentPhilosophy": str(),
					"fundingSource":        str(),
					"exitExpectations":     str(),
					"decisionProcess":      str(),
					"reputation":           str(),
					"network":              str(),
					"tractionRequirements": str(),
					"boardParticipation":   str(),
				},
			},
		},
		Required: []string{"name"},
	}
}

func candidateListSchema() *genai.Schema {
	return &genai.Schema{Type: genai.TypeArray, Items: candidateSchema()}
}
