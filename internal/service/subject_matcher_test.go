package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSubjectCode(t *testing.T) {
	assert.Equal(t, "cs101", NormalizeSubjectCode("CS-101"))
	assert.Equal(t, "cs101", NormalizeSubjectCode(" cs 101 "))
	assert.Equal(t, "ma102", NormalizeSubjectCode("MA_102."))
	assert.Equal(t, "", NormalizeSubjectCode("--"))
}

func TestSubjectMatcherExactThenNormalized(t *testing.T) {
	m := newSubjectMatcher[string]()
	assert.True(t, m.add("CS-101", "programming"))
	assert.True(t, m.add("CS101", "lab"))
	assert.False(t, m.add("CS-101", "duplicate"))
	assert.False(t, m.add("  ", "blank"))

	v, ok := m.resolve("CS101")
	assert.True(t, ok)
	assert.Equal(t, "lab", v)

	v, ok = m.resolve("cs 101")
	assert.True(t, ok)
	assert.Equal(t, "programming", v)

	_, ok = m.resolve("PH201")
	assert.False(t, ok)
	_, ok = m.resolve("")
	assert.False(t, ok)
}
