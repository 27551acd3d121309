// Package plugin holds plugins that extend every agent of an app.
package plugin

import (
	"fmt"

	"github.com/metalagman/adkx/internal/agent"
	"github.com/metalagman/adkx/internal/artifact"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// SaveFilesAsArtifacts stores files embedded in user messages as artifacts
// and leaves a placeholder naming the artifact in the message. The blob
// display name is the artifact name; same-named uploads add a new version.
type SaveFilesAsArtifacts struct{}

func (SaveFilesAsArtifacts) Name() string { return "save_files_as_artifacts" }

func (SaveFilesAsArtifacts) OnUserMessage(ictx *agent.InvocationContext, msg *genai.Content) (*genai.Content, error) {
	if ictx.Artifacts == nil {
		log.Warn().Msg("plugin: artifact service is not set, files are kept inline")
		return nil, nil
	}
	if msg == nil || len(msg.Parts) == 0 {
		return nil, nil
	}
	out := &genai.Content{Role: msg.Role, Parts: make([]*genai.Part, len(msg.Parts))}
	copy(out.Parts, msg.Parts)
	changed := false
	for i, p := range msg.Parts {
		if p == nil || p.InlineData == nil {
			continue
		}
		name := p.InlineData.DisplayName
		if name == "" {
			name = fmt.Sprintf("artifact_%s_%d", ictx.InvocationID, i)
		}
		key := artifact.Key{AppName: ictx.Session.AppName, UserID: ictx.Session.UserID, SessionID: ictx.Session.ID, Filename: name}
		if _, err := ictx.Artifacts.Save(ictx, key, p); err != nil {
			log.Error().Err(err).Int("part", i).Msg("plugin: save uploaded file")
			continue
		}
		out.Parts[i] = genai.NewPartFromText(fmt.Sprintf("[Uploaded Artifact: %q]", name))
		changed = true
		log.Info().Str("artifact", name).Msg("plugin: saved uploaded file")
	}
	if !changed {
		return nil, nil
	}
	return out, nil
}
