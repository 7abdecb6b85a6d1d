package feature

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Voice is a text-to-speech voice offered by the tts feature.
type Voice struct {
	Endpoint    string
	Name        string
	Description string
}

// DefaultVoices are the voices the tts feature may pick from.
var DefaultVoices = []Voice{
	{"elevenlabs:kadio:YkP683vAWY3rTjcuq2hX", "Kaido", "Teenage anime boy"},
	{"elevenlabs:drake:1thOSihlbbWeiCGuN5Nw", "Drake", "Anime male"},
	{"elevenlabs:terrorblade:lblRnHLq4YZ8wRRUe8ld", "Terrorblade", "Monstrous male"},
	{"elevenlabs:scillia:kNBPK9DILaezWWUSHpF9", "Scillia", "Teenage anime girl"},
	{"elevenlabs:mommy:jSd2IJ6Fdd2bD4TaIeUj", "Mommy", "Anime female"},
	{"elevenlabs:uni:PSAakCTPE63lB4tP9iNQ", "Uni", "Waifu girl"},
}

// BuiltinRegistry serves the built-in feature catalog. Features still in
// development are included unless ExcludeDev is set.
type BuiltinRegistry struct {
	ExcludeDev bool
}

func (r BuiltinRegistry) Features(_ context.Context) ([]Spec, error) {
	var out []Spec
	for _, s := range builtinSpecs() {
		if s.Dev && r.ExcludeDev {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func voiceList() string {
	lines := make([]string, 0, len(DefaultVoices))
	for _, v := range DefaultVoices {
		lines = append(lines, fmt.Sprintf("* %q: %s", v.Name, v.Endpoint))
	}
	return strings.Join(lines, "\n")
}

func voiceEndpoints() []string {
	out := make([]string, 0, len(DefaultVoices))
	for _, v := range DefaultVoices {
		out = append(out, v.Endpoint)
	}
	return out
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func params(m map[string]any) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		out[k] = mustJSON(v)
	}
	return out
}

var (
	currencies = []string{"usd"}
	intervals  = []string{"month", "year", "week", "day"}
)

func builtinSpecs() []Spec {
	return []Spec{
		{
			Name:        "tts",
			Description: "Text to speech.\nAvailable voice endpoints:\n" + voiceList(),
			Parameters: params(map[string]any{
				"voiceEndpoint": map[string]any{
					"type":     "string",
					"enum":     voiceEndpoints(),
					"examples": []string{DefaultVoices[0].Endpoint},
				},
			}),
			Examples: []json.RawMessage{mustJSON(map[string]any{"voiceEndpoint": DefaultVoices[0].Endpoint})},
		},
		{
			Name: "rateLimit",
			Description: "Agent is publicly available.\n" +
				"The rate limit is `maxUserMessages` messages per `maxUserMessagesTime` milliseconds.\n" +
				"When the rate limit is exceeded, the agent will respond with the static `message`.\n" +
				"If either `maxUserMessages` or `maxUserMessagesTime` is not provided or zero, the rate limit is disabled.",
			Parameters: params(map[string]any{
				"maxUserMessages":     map[string]any{"type": "number", "examples": []int{5}},
				"maxUserMessagesTime": map[string]any{"type": "number", "examples": []int{60000}},
				"message":             map[string]any{"type": "string", "examples": []string{"Whoa there! Take a moment."}},
			}),
			Examples: []json.RawMessage{mustJSON(map[string]any{
				"maxUserMessages": 5, "maxUserMessagesTime": 60000, "message": "Whoa there! Take a moment.",
			})},
		},
		{
			Name: "discord",
			Description: "Add Discord integration to the agent. Add this feature only when the user explicitly requests it and provides a bot token.\n\n" +
				"The user should follow these instructions to set up their bot (you can instruct them to do this):\n" +
				"- Create a bot application at https://discord.com/developers/applications and note the CLIENT_ID (also called \"application id\")\n" +
				"- Enable Privileged Gateway Intents at https://discord.com/developers/applications/CLIENT_ID/bot\n" +
				"- Add the bot to your server at https://discord.com/oauth2/authorize/?permissions=-2080908480&scope=bot&client_id=CLIENT_ID\n" +
				"- Get the bot token at https://discord.com/developers/applications/CLIENT_ID/bot\n" +
				"The token is required and must be provided.\n\n" +
				"`channels` is a list of channel names (text or voice) that the agent should join.",
			Parameters: params(map[string]any{
				"token": map[string]any{"type": "string", "examples": []string{"YOUR_DISCORD_BOT_TOKEN"}},
				"channels": map[string]any{
					"type":     "array",
					"items":    map[string]any{"type": "string"},
					"examples": [][]string{{"general", "voice"}},
				},
			}),
			Examples: []json.RawMessage{mustJSON(map[string]any{
				"token": "YOUR_DISCORD_BOT_TOKEN", "channels": []string{"general", "voice"},
			})},
		},
		{
			Name:        "twitterBot",
			Description: "Add a Twitter bot to the agent.\n\nThe API token is required.",
			Parameters: params(map[string]any{
				"token": map[string]any{"type": "string", "examples": []string{"YOUR_TWITTER_BOT_TOKEN"}},
			}),
			Examples: []json.RawMessage{mustJSON(map[string]any{"token": "YOUR_TWITTER_BOT_TOKEN"})},
		},
		{
			Name: "telnyx",
			Description: "Add Telnyx phone call/SMS support to the agent. Add this feature only when the user explicitly requests it and provides an api key.\n\n" +
				"Phone number is optional, but if provided must be in +E.164 format (e.g. +14151234567).",
			Parameters: params(map[string]any{
				"apiKey":      map[string]any{"type": "string", "examples": []string{"YOUR_TELNYX_API_KEY"}},
				"phoneNumber": map[string]any{"type": "string", "pattern": `^\+[1-9][0-9]{1,14}$`, "examples": []string{"+14151234567"}},
				"message":     map[string]any{"type": "boolean", "examples": []bool{true}},
				"voice":       map[string]any{"type": "boolean", "examples": []bool{true}},
			}),
			Examples: []json.RawMessage{mustJSON(map[string]any{
				"apiKey": "YOUR_TELNYX_API_KEY", "phoneNumber": "+14151234567", "message": true, "voice": true,
			})},
			Dev: true,
		},
		{
			Name: "storeItems",
			Description: "List of items that can be purchased from the agent, with associated prices.\n" +
				"`amount` in cents (e.g. 100 = $1).",
			Parameters: params(map[string]any{
				"items": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"type":          map[string]any{"type": "string", "enum": []string{"payment", "subscription"}},
							"name":          map[string]any{"type": "string", "examples": []string{"Art"}},
							"description":   map[string]any{"type": "string", "examples": []string{"An art piece"}},
							"amount":        map[string]any{"type": "integer", "examples": []int{499}},
							"currency":      map[string]any{"type": "string", "enum": currencies},
							"interval":      map[string]any{"type": "string", "enum": intervals},
							"intervalCount": map[string]any{"type": "integer", "examples": []int{1}},
						},
						"required": []string{"type", "name", "amount", "currency"},
					},
				},
			}),
			Examples: []json.RawMessage{mustJSON(map[string]any{
				"items": []any{map[string]any{
					"type": "payment", "name": "Art", "description": "An art piece", "amount": 499, "currency": "usd",
				}},
			})},
			Dev: true,
		},
	}
}
