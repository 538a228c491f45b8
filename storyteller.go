package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const storytellerSystemPrompt = `You are the narrator of a werewolf game. At dawn you tell the village what the night brought. Keep it to 2-3 sentences, gothic and dramatic. Never reveal anyone's role or who acted during the night.`

// Storyteller narrates the dawn after each night.
// onChunk is called with each text chunk as it streams in.
type Storyteller interface {
	Tell(ctx context.Context, history []string, onChunk func(string)) (string, error)
}

// globalStoryteller is nil when no provider is configured (feature disabled).
var globalStoryteller Storyteller

var errNoProvider = errors.New("no storyteller provider configured")

type llmStoryteller struct {
	llm          llms.Model
	systemPrompt string
	callOpts     []llms.CallOption
}

func (s *llmStoryteller) Tell(ctx context.Context, history []string, onChunk func(string)) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, s.systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman,
			"What the village knows so far:\n"+strings.Join(history, "\n")+
				"\n\nNarrate the dawn that just broke."),
	}

	var fullText strings.Builder
	opts := append(s.callOpts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		fullText.Write(chunk)
		if onChunk != nil {
			onChunk(string(chunk))
		}
		return nil
	}))

	_, err := s.llm.GenerateContent(ctx, messages, opts...)
	return strings.TrimSpace(fullText.String()), err
}

// buildCallOpts builds LLM call options from the config.
func buildCallOpts(cfg AppConfig) []llms.CallOption {
	var opts []llms.CallOption

	if cfg.StorytellerTemperature != "" {
		if f, err := strconv.ParseFloat(cfg.StorytellerTemperature, 64); err == nil {
			opts = append(opts, llms.WithTemperature(f))
		} else {
			log.Printf("Storyteller: invalid temperature %q: %v", cfg.StorytellerTemperature, err)
		}
	}

	if cfg.StorytellerThinking != "" {
		mode := llms.ThinkingMode(cfg.StorytellerThinking)
		switch mode {
		case llms.ThinkingModeNone, llms.ThinkingModeLow, llms.ThinkingModeMedium, llms.ThinkingModeHigh, llms.ThinkingModeAuto:
			opts = append(opts, llms.WithThinkingMode(mode))
		default:
			log.Printf("Storyteller: invalid thinking %q (valid: none, low, medium, high, auto)", cfg.StorytellerThinking)
		}
	}

	return opts
}

// newModel picks the langchaingo backend named by the config.
func newModel(cfg AppConfig) (llms.Model, error) {
	model := cfg.StorytellerModel
	switch cfg.StorytellerProvider {
	case "ollama":
		return ollama.New(ollama.WithModel(model), ollama.WithServerURL(cfg.StorytellerOllamaURL))
	case "openai":
		return openai.New(openai.WithModel(model))
	case "claude":
		return anthropic.New(anthropic.WithModel(model))
	case "gemini":
		return googleai.New(context.Background(), googleai.WithDefaultModel(model))
	case "groq":
		return openai.New(
			openai.WithModel(model),
			openai.WithBaseURL("https://api.groq.com/openai/v1"),
			openai.WithToken(cfg.GroqAPIKey),
		)
	case "openai-compatible":
		if cfg.StorytellerURL == "" {
			return nil, fmt.Errorf("storyteller_url is required for openai-compatible provider")
		}
		opts := []openai.Option{openai.WithModel(model), openai.WithBaseURL(cfg.StorytellerURL)}
		if cfg.StorytellerAPIKey != "" {
			opts = append(opts, openai.WithToken(cfg.StorytellerAPIKey))
		}
		return openai.New(opts...)
	case "":
		return nil, errNoProvider
	default:
		return nil, fmt.Errorf("unknown storyteller provider %q", cfg.StorytellerProvider)
	}
}

// initStoryteller sets up the global storyteller from config.
func initStoryteller(cfg AppConfig) {
	llm, err := newModel(cfg)
	if errors.Is(err, errNoProvider) {
		log.Printf("Storyteller: disabled (set storyteller_provider to enable)")
		return
	}
	if err != nil {
		log.Printf("Storyteller: failed to init %s (%s): %v", cfg.StorytellerProvider, cfg.StorytellerModel, err)
		return
	}
	globalStoryteller = &llmStoryteller{llm: llm, systemPrompt: storytellerSystemPrompt, callOpts: buildCallOpts(cfg)}
	log.Printf("Storyteller: %s model=%s", cfg.StorytellerProvider, cfg.StorytellerModel)
}

// dawnHistory lists the public facts of every finished night, which is all
// the narrator may know.
func dawnHistory(reports []NightReport, names map[int]string) []string {
	var lines []string
	for _, rep := range reports {
		if rep.Peaceful {
			lines = append(lines, fmt.Sprintf("Night %d: nobody died.", rep.Night))
			continue
		}
		victims := make([]string, 0, len(rep.Deaths))
		for _, seat := range rep.Deaths {
			victims = append(victims, fmt.Sprintf("%s (seat %d)", names[seat], seat))
		}
		lines = append(lines, fmt.Sprintf("Night %d: %s found dead.", rep.Night, strings.Join(victims, " and ")))
	}
	return lines
}

// narrateDawn streams a narration of the night to the room. Returns
// immediately; partial text is pushed every 300ms and the final text is
// stored with the night report.
func narrateDawn(h *Hub, roomID string, night int, history []string) {
	if globalStoryteller == nil {
		return
	}
	teller := globalStoryteller

	go func() {
		var mu sync.Mutex
		var buf strings.Builder

		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(300 * time.Millisecond)
			defer ticker.Stop()
			sent := ""
			for {
				select {
				case <-ticker.C:
					mu.Lock()
					text := strings.TrimSpace(buf.String())
					mu.Unlock()
					if text != "" && text != sent {
						h.broadcastRoom(roomID, Envelope{Type: MsgNarration, Text: text})
						sent = text
					}
				case <-done:
					return
				}
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		text, err := teller.Tell(ctx, history, func(chunk string) {
			mu.Lock()
			buf.WriteString(chunk)
			mu.Unlock()
		})
		close(done)

		if err != nil {
			log.Printf("narrateDawn: storyteller error: %v", err)
			return
		}
		if text == "" {
			return
		}
		if err := saveNarration(roomID, night, text); err != nil {
			logError("narrateDawn: saveNarration", err)
		}
		h.broadcastRoom(roomID, Envelope{Type: MsgNarration, Text: text})
		log.Printf("Storyteller: narrated night %d in room %s", night, roomID)
	}()
}
