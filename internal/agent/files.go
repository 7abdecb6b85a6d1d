package agent

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

// FileName is the agent config file inside an agent directory.
const FileName = "agent.json"

// Defaults fills empty fields in EnsureDefaults.
type Defaults struct {
	Model         string
	SmallModel    string
	LargeModel    string
	VoiceEndpoint string
}

// DefaultDefaults mirrors the models and voice new agents start with.
var DefaultDefaults = Defaults{
	Model:         "openai:gpt-4o-2024-08-06",
	SmallModel:    "openai:gpt-4o-mini",
	LargeModel:    "openai:o1-preview",
	VoiceEndpoint: "elevenlabs:scillia:kNBPK9DILaezWWUSHpF9",
}

// EnsureDefaults returns c with every required empty field filled.
func EnsureDefaults(c Config, d Defaults) Config {
	c = c.Clone()
	if c.Name == "" {
		c.Name = fmt.Sprintf("AI Agent %d", 10000+rand.IntN(90000))
	}
	if c.Description == "" {
		c.Description = "Created by the AI Agent SDK"
	}
	if c.Bio == "" {
		c.Bio = "A cool AI"
	}
	if c.Model == "" {
		c.Model = or(d.Model, DefaultDefaults.Model)
	}
	if c.SmallModel == "" {
		c.SmallModel = or(d.SmallModel, DefaultDefaults.SmallModel)
	}
	if c.LargeModel == "" {
		c.LargeModel = or(d.LargeModel, DefaultDefaults.LargeModel)
	}
	if c.VoiceEndpoint == "" {
		c.VoiceEndpoint = or(d.VoiceEndpoint, DefaultDefaults.VoiceEndpoint)
	}
	return c
}

func or(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// Load reads an agent.json. path may be the file or its directory.
func Load(path string) (Config, error) {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		path = filepath.Join(path, FileName)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read agent %s: %w", path, err)
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse agent %s: %w", path, err)
	}
	return c, nil
}

// Save writes c as indented JSON, creating the directory when path ends in
// a directory name rather than a .json file.
func Save(path string, c Config) (string, error) {
	if filepath.Ext(path) != ".json" {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return "", fmt.Errorf("create agent dir %s: %w", path, err)
		}
		path = filepath.Join(path, FileName)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal agent: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write agent %s: %w", path, err)
	}
	return path, nil
}

var (
	spaceRe      = regexp.MustCompile(`\s+`)
	unsafeRe     = regexp.MustCompile(`[^a-zA-Z0-9_]`)
	underscoreRe = regexp.MustCompile(`_+`)
)

// SanitizeDirName turns an agent name into a shell-safe directory name.
func SanitizeDirName(name string) string {
	s := spaceRe.ReplaceAllString(name, "_")
	s = unsafeRe.ReplaceAllString(s, "_")
	s = underscoreRe.ReplaceAllString(s, "_")
	return strings.ToLower(s)
}

// ImageDataURL reads an image file into a data URL.
func ImageDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", path, err)
	}
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// CharacterCard is the subset of a chara_card_v2 JSON card used to seed an agent.
type CharacterCard struct {
	Spec string `json:"spec"`
	Data struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Personality string `json:"personality"`
	} `json:"data"`
}

// LoadCharacterCard reads a JSON character card into a partial Config.
func LoadCharacterCard(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read character card %s: %w", path, err)
	}
	var card CharacterCard
	if err := json.Unmarshal(data, &card); err != nil {
		return Config{}, fmt.Errorf("parse character card %s: %w", path, err)
	}
	if card.Spec != "" && card.Spec != "chara_card_v2" {
		return Config{}, fmt.Errorf("unsupported character card spec %q", card.Spec)
	}
	return Config{
		Name:        card.Data.Name,
		Description: card.Data.Description,
		Bio:         card.Data.Personality,
	}, nil
}

// Summary renders the labelled fields printed after an interview.
func (c Config) Summary() []SummaryLine {
	features := "*none*"
	if names := c.FeatureNames(); len(names) > 0 {
		slices.Sort(names)
		features = strings.Join(names, ", ")
	}
	return []SummaryLine{
		{"Name", c.Name},
		{"Bio", c.Bio},
		{"Description", c.Description},
		{"Visual Description", c.VisualDescription},
		{"Preview URL", truncateURL(c.PreviewURL)},
		{"Homespace Description", c.HomespaceDescription},
		{"Homespace URL", truncateURL(c.HomespaceURL)},
		{"Features", features},
	}
}

// SummaryLine is one labelled value of Summary.
type SummaryLine struct {
	Label string
	Value string
}

func truncateURL(u string) string {
	if strings.HasPrefix(u, "data:") && len(u) > 48 {
		return u[:48] + "..."
	}
	return u
}
