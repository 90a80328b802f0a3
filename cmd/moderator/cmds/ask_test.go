package cmds

import (
	"testing"

	"github.com/go-go-golems/moderator/pkg/config"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAskRequiresTelegramToken(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)
	v.Set("openai.api-key", "sk-test")
	s := config.Load(v)

	components, err := askComponents("memory")
	require.NoError(t, err)
	assert.Equal(t, []config.Component{config.ComponentTelegram, config.ComponentOpenAI}, components)
	assert.EqualError(t, s.Validate(components...), "telegram.token is required")

	v.Set("telegram.token", "123:abc")
	require.NoError(t, config.Load(v).Validate(components...))

	components, err = askComponents("telegraph")
	require.NoError(t, err)
	assert.Contains(t, components, config.ComponentTelegraph)

	_, err = askComponents("redis")
	assert.Error(t, err)
}
