package redistest

import (
	"testing"

	"github.com/gomodule/redigo/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeNode(t *testing.T) {
	n := StartFakeNode(t, func(cmd string, args ...string) interface{} {
		return cmd
	})
	defer n.Close()

	c, err := redis.Dial("tcp", n.Addr)
	require.NoError(t, err, "Dial")

	v, err := redis.String(c.Do("ECHO", "a"))
	require.NoError(t, err, "ECHO")
	assert.Equal(t, "ECHO", v, "Should return the command name")
	assert.Equal(t, []string{"ECHO"}, n.Received(), "Should record the command seen")
}
