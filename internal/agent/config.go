package agent

import (
	"bytes"
	"encoding/json"
	"maps"
)

// Config is the agent description an interview fills in. It is also the
// on-disk agent.json shape.
type Config struct {
	Name                 string                     `json:"name"`
	Bio                  string                     `json:"bio"`
	Description          string                     `json:"description"`
	VisualDescription    string                     `json:"visualDescription,omitempty"`
	HomespaceDescription string                     `json:"homespaceDescription,omitempty"`
	Model                string                     `json:"model"`
	SmallModel           string                     `json:"smallModel"`
	LargeModel           string                     `json:"largeModel"`
	PreviewURL           string                     `json:"previewUrl"`
	AvatarURL            string                     `json:"avatarUrl"`
	HomespaceURL         string                     `json:"homespaceUrl"`
	VoiceEndpoint        string                     `json:"voiceEndpoint"`
	Private              bool                       `json:"private,omitempty"`
	Features             map[string]json.RawMessage `json:"features,omitempty"`
}

// Update is a partial Config as returned by the completion provider.
// A nil field was absent or null and is never merged.
type Update struct {
	Name                 *string                    `json:"name"`
	Bio                  *string                    `json:"bio"`
	Description          *string                    `json:"description"`
	VisualDescription    *string                    `json:"visualDescription"`
	HomespaceDescription *string                    `json:"homespaceDescription"`
	Features             map[string]json.RawMessage `json:"features"`
	Private              *bool                      `json:"private"`
}

// Field names as they appear on the wire and in interview events.
const (
	FieldName                 = "name"
	FieldBio                  = "bio"
	FieldDescription          = "description"
	FieldVisualDescription    = "visualDescription"
	FieldHomespaceDescription = "homespaceDescription"
	FieldFeatures             = "features"
	FieldPrivate              = "private"
)

// Clone returns a deep copy.
func (c Config) Clone() Config {
	out := c
	if c.Features != nil {
		out.Features = make(map[string]json.RawMessage, len(c.Features))
		for k, v := range c.Features {
			out.Features[k] = bytes.Clone(v)
		}
	}
	return out
}

// FeatureNames lists the configured feature keys.
func (c Config) FeatureNames() []string {
	names := make([]string, 0, len(c.Features))
	for name := range c.Features {
		names = append(names, name)
	}
	return names
}

// Editable projects the config onto the fields the model may edit. Unset
// fields stay nil so they serialize as null.
func (c Config) Editable() Update {
	var u Update
	u.Name = nonEmpty(c.Name)
	u.Bio = nonEmpty(c.Bio)
	u.Description = nonEmpty(c.Description)
	u.VisualDescription = nonEmpty(c.VisualDescription)
	u.HomespaceDescription = nonEmpty(c.HomespaceDescription)
	if len(c.Features) > 0 {
		u.Features = maps.Clone(c.Features)
	}
	if c.Private {
		p := true
		u.Private = &p
	}
	return u
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Merge applies every non-nil field of u to c and returns the names of the
// fields it wrote, in declaration order.
func (c *Config) Merge(u Update) []string {
	var changed []string
	if u.Name != nil {
		c.Name = *u.Name
		changed = append(changed, FieldName)
	}
	if u.Bio != nil {
		c.Bio = *u.Bio
		changed = append(changed, FieldBio)
	}
	if u.Description != nil {
		c.Description = *u.Description
		changed = append(changed, FieldDescription)
	}
	if u.VisualDescription != nil {
		c.VisualDescription = *u.VisualDescription
		changed = append(changed, FieldVisualDescription)
	}
	if u.HomespaceDescription != nil {
		c.HomespaceDescription = *u.HomespaceDescription
		changed = append(changed, FieldHomespaceDescription)
	}
	if u.Features != nil {
		c.Features = make(map[string]json.RawMessage, len(u.Features))
		for k, v := range u.Features {
			c.Features[k] = bytes.Clone(v)
		}
		changed = append(changed, FieldFeatures)
	}
	if u.Private != nil {
		c.Private = *u.Private
		changed = append(changed, FieldPrivate)
	}
	return changed
}

// WithoutNullFeatures drops feature entries the model explicitly set to null
// so they do not clobber configured features.
func WithoutNullFeatures(u Update) Update {
	if u.Features == nil {
		return u
	}
	kept := make(map[string]json.RawMessage, len(u.Features))
	for name, v := range u.Features {
		if isNull(v) {
			continue
		}
		kept[name] = v
	}
	if len(kept) == 0 {
		kept = nil
	}
	u.Features = kept
	return u
}

// HasFeatureValues reports whether at least one feature entry is non-null.
func (u Update) HasFeatureValues() bool {
	for _, v := range u.Features {
		if !isNull(v) {
			return true
		}
	}
	return false
}

func isNull(v json.RawMessage) bool {
	t := bytes.TrimSpace(v)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}
