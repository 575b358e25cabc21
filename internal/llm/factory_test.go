package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bunny-chatter/internal/config"
)

func TestFactoryCreateClient(t *testing.T) {
	f := NewFactory(&config.Config{OpenAIAPIKey: "k", OpenAIModel: "gpt-3.5-turbo"})

	c, err := f.CreateClient("OpenAI")
	require.NoError(t, err)
	oc, ok := c.(*OpenAIClient)
	require.True(t, ok)
	assert.Equal(t, "gpt-3.5-turbo", oc.model)

	_, err = f.CreateClient("carrot")
	assert.Error(t, err)
}
