package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTranscriptDecodesObjectForm(t *testing.T) {
	data := `{
		"messages": [{"role": "user", "for_model": "hi", "for_user": "hi", "think": "", "tags": ["tool"]}],
		"prompt_settings": {"tools": true},
		"tool_settings": {"search": false}
	}`
	var tr Transcript
	require.NoError(t, json.Unmarshal([]byte(data), &tr))

	require.Len(t, tr.Messages, 1)
	require.Equal(t, RoleUser, tr.Messages[0].Role)
	require.True(t, tr.Messages[0].HasTag(TagTool))
	require.Equal(t, map[string]bool{"tools": true}, tr.PromptSettings)
	require.Equal(t, map[string]bool{"search": false}, tr.ToolSettings)
}

func TestTranscriptDecodesLegacyArray(t *testing.T) {
	data := `[
		{"role": "system", "for_model": "p", "for_user": "", "think": ""},
		{"role": "assistant", "for_model": "a", "for_user": "a", "think": "t"}
	]`
	var tr Transcript
	require.NoError(t, json.Unmarshal([]byte(data), &tr))

	require.Len(t, tr.Messages, 2)
	require.Equal(t, "t", tr.Messages[1].Think)
	require.NotNil(t, tr.PromptSettings)
	require.Empty(t, tr.PromptSettings)
	require.NotNil(t, tr.ToolSettings)
	require.Empty(t, tr.ToolSettings)
}

func TestTranscriptMissingMapsAreInitialised(t *testing.T) {
	var tr Transcript
	require.NoError(t, json.Unmarshal([]byte(`{"messages": []}`), &tr))
	require.NotNil(t, tr.PromptSettings)
	require.NotNil(t, tr.ToolSettings)
}

func TestTranscriptCloneIsDeep(t *testing.T) {
	tr := NewTranscript()
	tr.Messages = append(tr.Messages, NewMessage(RoleSystem, "m", "u", TagCode))
	tr.ToolSettings["run"] = true

	c := tr.Clone()
	c.Messages[0].Tags[0] = TagFile
	c.ToolSettings["run"] = false

	require.Equal(t, TagCode, tr.Messages[0].Tags[0])
	require.True(t, tr.ToolSettings["run"])
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Assistant ")
	require.NoError(t, err)
	require.Equal(t, RoleAssistant, r)

	_, err = ParseRole("tool")
	require.Error(t, err)
}
