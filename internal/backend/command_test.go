package backend

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 300))

	msg := strings.Repeat("a", 296) + "无法发送通知"
	got := truncate(msg, 300)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), 300)
	assert.Equal(t, strings.Repeat("a", 296)+"...", got)

	got = truncate(strings.Repeat("通", 200), 300)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.LessOrEqual(t, len(got), 300)
}
