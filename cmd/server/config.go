package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/MegaGrindStone/tutor-web-ui/internal/services"
	"gopkg.in/yaml.v3"
)

type tutorConfig interface {
	validate() error
}

// localTutorConfig is implemented by providers that answer with a language model instead of the
// platform's tutor.
type localTutorConfig interface {
	tutorConfig
	llm(systemPrompt string) (services.LLM, string, error)
}

// BaseTutorConfig contains the common fields for all tutor configurations.
type BaseTutorConfig struct {
	Provider string `yaml:"provider"`
}

type config struct {
	Port         string       `yaml:"port"`
	SystemPrompt string       `yaml:"systemPrompt"`
	Log          logConfig    `yaml:"log"`
	Reveal       revealConfig `yaml:"reveal"`
	Tutor        tutorConfig  `yaml:"tutor"`
}

type logConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type revealConfig struct {
	Interval time.Duration `yaml:"interval"`
	Step     int           `yaml:"step"`
}

type apiConfig struct {
	BaseTutorConfig `yaml:",inline"`
	BaseURL         string        `yaml:"baseURL"`
	Token           string        `yaml:"token"`
	Timeout         time.Duration `yaml:"timeout"`
}

type ollamaConfig struct {
	BaseTutorConfig `yaml:",inline"`
	Model           string `yaml:"model"`
	Host            string `yaml:"host"`
}

type openAIConfig struct {
	BaseTutorConfig `yaml:",inline"`
	Model           string `yaml:"model"`
	APIKey          string `yaml:"apiKey"`
	BaseURL         string `yaml:"baseURL"`
}

type anthropicConfig struct {
	BaseTutorConfig `yaml:",inline"`
	Model           string `yaml:"model"`
	APIKey          string `yaml:"apiKey"`
	MaxTokens       int    `yaml:"maxTokens"`
}

const (
	defaultPort           = "8080"
	defaultRevealInterval = 15 * time.Millisecond
	defaultRevealStep     = 2
	defaultAPITimeout     = 60 * time.Second
	defaultSystemPrompt   = "Você é um tutor paciente. Explique passo a passo e com exemplos, " +
		"em português, sem entregar respostas de provas prontas."
)

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port         string         `yaml:"port"`
		SystemPrompt string         `yaml:"systemPrompt"`
		Log          logConfig      `yaml:"log"`
		Reveal       *revealConfig  `yaml:"reveal"`
		Tutor        map[string]any `yaml:"tutor"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	if c.Port == "" {
		c.Port = defaultPort
	}
	c.SystemPrompt = rawConfig.SystemPrompt
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}
	c.Log = rawConfig.Log
	c.Reveal = revealConfig{Interval: defaultRevealInterval, Step: defaultRevealStep}
	if rawConfig.Reveal != nil {
		c.Reveal = *rawConfig.Reveal
	}

	tutorProvider, ok := rawConfig.Tutor["provider"].(string)
	if !ok {
		return fmt.Errorf("tutor provider is required")
	}

	tutorRawYAML, err := yaml.Marshal(rawConfig.Tutor)
	if err != nil {
		return err
	}

	var tutor tutorConfig
	switch tutorProvider {
	case "api":
		tutor = &apiConfig{}
	case "ollama":
		tutor = &ollamaConfig{}
	case "openai":
		tutor = &openAIConfig{}
	case "anthropic":
		tutor = &anthropicConfig{}
	default:
		return fmt.Errorf("unknown tutor provider: %s", tutorProvider)
	}

	if err := yaml.Unmarshal(tutorRawYAML, tutor); err != nil {
		return err
	}
	if err := tutor.validate(); err != nil {
		return fmt.Errorf("invalid %s tutor config: %w", tutorProvider, err)
	}

	c.Tutor = tutor

	return nil
}

func (l logConfig) logger() (*slog.Logger, error) {
	var level slog.Level
	if l.Level != "" {
		if err := level.UnmarshalText([]byte(l.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", l.Level, err)
		}
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(l.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format: %s", l.Format)
	}
}

func (a *apiConfig) validate() error {
	if a.BaseURL == "" {
		return fmt.Errorf("baseURL is required")
	}
	if a.Token == "" {
		a.Token = os.Getenv("TUTOR_API_TOKEN")
	}
	if a.Timeout == 0 {
		a.Timeout = defaultAPITimeout
	}
	return nil
}

func (a apiConfig) newTutorAPI(logger *slog.Logger) services.TutorAPI {
	return services.NewTutorAPI(a.BaseURL, services.NewStaticToken(a.Token), a.Timeout, logger)
}

func (o *ollamaConfig) validate() error {
	if o.Model == "" {
		return fmt.Errorf("model is required")
	}
	if o.Host == "" {
		o.Host = os.Getenv("OLLAMA_HOST")
	}
	if o.Host == "" {
		o.Host = "http://localhost:11434"
	}
	return nil
}

func (o *ollamaConfig) llm(systemPrompt string) (services.LLM, string, error) {
	ollama, err := services.NewOllama(o.Host, o.Model, systemPrompt)
	if err != nil {
		return nil, "", err
	}
	return ollama, ollama.Model(), nil
}

func (o *openAIConfig) validate() error {
	if o.Model == "" {
		return fmt.Errorf("model is required")
	}
	if o.APIKey == "" {
		o.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return nil
}

func (o *openAIConfig) llm(systemPrompt string) (services.LLM, string, error) {
	openai := services.NewOpenAI(o.APIKey, o.BaseURL, o.Model, systemPrompt)
	return openai, openai.Model(), nil
}

func (a *anthropicConfig) validate() error {
	if a.Model == "" {
		return fmt.Errorf("model is required")
	}
	if a.MaxTokens == 0 {
		return fmt.Errorf("maxTokens is required")
	}
	if a.APIKey == "" {
		a.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return nil
}

func (a *anthropicConfig) llm(systemPrompt string) (services.LLM, string, error) {
	anthropic := services.NewAnthropic(a.APIKey, "", a.Model, systemPrompt, a.MaxTokens)
	return anthropic, anthropic.Model(), nil
}
