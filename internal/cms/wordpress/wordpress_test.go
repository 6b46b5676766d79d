package wordpress

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jo-hoe/postpainter/internal/apperr"
	"github.com/jo-hoe/postpainter/internal/cms"
)

func newSite(t *testing.T, h http.HandlerFunc) (*Client, cms.Credentials) {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return New().WithHTTPClient(ts.Client()), cms.Credentials{SiteURL: ts.URL + "/", Username: "admin", Password: "app pass"}
}

func requireBasicAuth(t *testing.T, r *http.Request) {
	t.Helper()
	u, p, ok := r.BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "admin", u)
	assert.Equal(t, "app pass", p)
}

func TestCountPosts(t *testing.T) {
	c, creds := newSite(t, func(w http.ResponseWriter, r *http.Request) {
		requireBasicAuth(t, r)
		assert.Equal(t, "/wp-json/wp/v2/posts", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("per_page"))
		w.Header().Set("X-WP-Total", "137")
		_, _ = w.Write([]byte(`[{"id":1}]`))
	})
	n, err := c.CountPosts(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, 137, n)
}

func TestListPosts_AuditAndEmbed(t *testing.T) {
	c, creds := newSite(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "wp:featuredmedia", r.URL.Query().Get("_embed"))
		_, _ = w.Write([]byte(`[
			{"id":10,"link":"https://s/a","title":{"rendered":"A &amp; B"},"content":{"raw":"<p>x</p><img src=\"i.jpg\" alt=\"I\"><img src=\"j.jpg\">","rendered":"ignored"},"featured_media":0},
			{"id":11,"title":{"raw":"C"},"content":{"rendered":"<p>y</p>"},"featured_media":7,
			 "_embedded":{"wp:featuredmedia":[{"id":7,"source_url":"https://s/f.jpg","alt_text":"F"}]}}
		]`))
	})
	posts, err := c.ListPosts(context.Background(), creds, 2, 50)
	require.NoError(t, err)
	require.Len(t, posts, 2)

	assert.Equal(t, int64(10), posts[0].ID)
	assert.Equal(t, "A & B", posts[0].Title)
	assert.Equal(t, 2, posts[0].ImageCount)
	assert.Equal(t, "i.jpg", posts[0].ExistingImageURL)
	assert.Equal(t, "I", posts[0].ExistingImageAlt)
	assert.Contains(t, posts[0].Content, "<img")

	assert.Equal(t, int64(7), posts[1].FeaturedMediaID)
	assert.Equal(t, 0, posts[1].ImageCount)
	assert.Equal(t, "https://s/f.jpg", posts[1].ExistingImageURL)
	assert.False(t, posts[1].NeedsImagery())
}

func TestUploadMedia_Multipart(t *testing.T) {
	c, creds := newSite(t, func(w http.ResponseWriter, r *http.Request) {
		requireBasicAuth(t, r)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/wp-json/wp/v2/media", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Alt", r.FormValue("alt_text"))
		assert.Equal(t, "Cap", r.FormValue("caption"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "bytes", string(data))
		assert.Equal(t, "post-1.jpg", hdr.Filename)
		assert.Equal(t, "image/jpeg", hdr.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":99,"source_url":"https://s/up.jpg"}`))
	})
	m, err := c.UploadMedia(context.Background(), creds, []byte("bytes"), "post-1.jpg", "image/jpeg", "Alt", "Cap")
	require.NoError(t, err)
	assert.Equal(t, cms.Media{ID: 99, URL: "https://s/up.jpg"}, m)
}

func TestPatchPost(t *testing.T) {
	var seen map[string]any
	c, creds := newSite(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wp-json/wp/v2/posts/5", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&seen)
		_, _ = w.Write([]byte(`{"id":5,"content":{"raw":"new"},"featured_media":9}`))
	})
	body := "new"
	media := int64(9)
	p, err := c.PatchPost(context.Background(), creds, 5, cms.PostPatch{Content: &body, FeaturedMediaID: &media})
	require.NoError(t, err)
	assert.Equal(t, "new", seen["content"])
	assert.EqualValues(t, 9, seen["featured_media"])
	assert.Equal(t, int64(9), p.FeaturedMediaID)

	_, err = c.PatchPost(context.Background(), creds, 5, cms.PostPatch{Content: &body})
	require.NoError(t, err)
	_, hasFeatured := seen["featured_media"]
	assert.False(t, hasFeatured)
}

func TestPatchMediaAltText(t *testing.T) {
	var seen map[string]string
	c, creds := newSite(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wp-json/wp/v2/media/3", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&seen)
		_, _ = w.Write([]byte(`{"id":3}`))
	})
	require.NoError(t, c.PatchMediaAltText(context.Background(), creds, 3, "new alt"))
	assert.Equal(t, "new alt", seen["alt_text"])
}

func TestErrorsCarryStatus(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, apperr.ErrAuthentication},
		{http.StatusForbidden, apperr.ErrAuthentication},
		{http.StatusNotFound, apperr.ErrNotFound},
		{http.StatusInternalServerError, apperr.ErrTransport},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			c, creds := newSite(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"code":"x","message":"nope"}`))
			})
			_, err := c.CountPosts(context.Background(), creds)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			var e *apperr.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tc.status, e.StatusCode)
			assert.Equal(t, "nope", e.Message)
		})
	}
}

func TestNetworkFailureIsTransport(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()
	_, err := New().CountPosts(context.Background(), cms.Credentials{SiteURL: url})
	assert.ErrorIs(t, err, apperr.ErrTransport)
}

func TestInvalidSiteURL(t *testing.T) {
	_, err := New().CountPosts(context.Background(), cms.Credentials{SiteURL: "ftp://x"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestFetchImage_AuthOnlyForSite(t *testing.T) {
	var gotAuth bool
	c, creds := newSite(t, func(w http.ResponseWriter, r *http.Request) {
		_, _, gotAuth = r.BasicAuth()
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("img"))
	})
	data, mime, err := c.FetchImage(context.Background(), creds, creds.SiteURL+"wp-content/uploads/a.png")
	require.NoError(t, err)
	assert.Equal(t, "img", string(data))
	assert.Equal(t, "image/png", mime)
	assert.True(t, gotAuth)
}
