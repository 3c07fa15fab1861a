package reelauth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	ra "github.com/panyam/reelauth"
)

func TestUploadPolicy(t *testing.T) {
	policy := ra.UploadPolicy{}

	assert.NoError(t, policy.Check(ra.MediaVideo, "video/mp4", 10<<20))
	assert.NoError(t, policy.Check(ra.MediaImage, "image/PNG", 1024))
	assert.NoError(t, policy.Check(ra.MediaVideo, "video/webm", ra.DefaultMaxUploadBytes))

	cases := map[string]struct {
		kind        ra.MediaKind
		contentType string
		size        int64
		field       string
	}{
		"image as video":    {ra.MediaVideo, "image/png", 1024, "content_type"},
		"video as image":    {ra.MediaImage, "video/mp4", 1024, "content_type"},
		"too large":         {ra.MediaVideo, "video/mp4", ra.DefaultMaxUploadBytes + 1, "size"},
		"empty file":        {ra.MediaImage, "image/jpeg", 0, "size"},
		"unknown kind":      {ra.MediaKind("audio"), "audio/mpeg", 1024, "kind"},
		"prefix not a type": {ra.MediaImage, "imagex/png", 1024, "content_type"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := policy.Check(tc.kind, tc.contentType, tc.size)
			assert.ErrorIs(t, err, ra.ErrValidation)
			assert.Equal(t, tc.field, ra.ValidationField(err))
		})
	}

	t.Run("custom limit", func(t *testing.T) {
		small := ra.UploadPolicy{MaxBytes: 1 << 20}
		assert.NoError(t, small.Check(ra.MediaImage, "image/gif", 1<<20))
		assert.ErrorIs(t, small.Check(ra.MediaImage, "image/gif", 1<<20+1), ra.ErrValidation)
	})
}
