package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/tinymistd/pkg/api"
	"github.com/cuemby/tinymistd/pkg/pool"
	"github.com/cuemby/tinymistd/pkg/types"
)

type stubBackend struct {
	previewErr error
	previews   []*pool.ServerInfo
}

func (s *stubBackend) DocumentOpened(ctx context.Context, path string) types.DownloadStatus {
	return types.DownloadStatus{Kind: types.DownloadScheduled}
}

func (s *stubBackend) DocumentClosed(path string) pool.TeardownReport {
	return pool.TeardownReport{Key: path, Found: true, Exited: true, Stages: []pool.Stage{pool.StageGraceful, pool.StageRemoved}}
}

func (s *stubBackend) RequestPreview(ctx context.Context, path string) (*pool.ServerInfo, error) {
	if s.previewErr != nil {
		return nil, s.previewErr
	}
	info := &pool.ServerInfo{Key: path, DataPort: 23627, ControlPort: 23628, PID: 99, TaskID: "t"}
	s.previews = append(s.previews, info)
	return info, nil
}

func (s *stubBackend) Previews() []*pool.ServerInfo { return s.previews }

func (s *stubBackend) BinaryInfo() types.BinaryInfo {
	return types.BinaryInfo{State: "downloading", Location: types.BinaryLocation{VersionTag: "v0.13.12"}}
}

func newTestClient(t *testing.T, backend api.Backend) *Client {
	t.Helper()
	srv := httptest.NewServer(api.NewServer(backend).Handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL)
}

func TestClient(t *testing.T) {
	c := newTestClient(t, &stubBackend{})

	info, err := c.Binary()
	require.NoError(t, err)
	assert.Equal(t, "downloading", info.State)
	assert.Equal(t, "v0.13.12", info.Location.VersionTag)

	opened, err := c.OpenDocument("/work/a b.typ")
	require.NoError(t, err)
	assert.Equal(t, "/work/a b.typ", opened.Path)
	assert.Equal(t, types.DownloadScheduled, opened.Status)

	preview, err := c.RequestPreview("/work/a b.typ")
	require.NoError(t, err)
	assert.Equal(t, 23627, preview.DataPort)
	assert.Equal(t, 99, preview.PID)

	list, err := c.ListPreviews()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "/work/a b.typ", list[0].Path)

	closed, err := c.CloseDocument("/work/a b.typ")
	require.NoError(t, err)
	assert.True(t, closed.Found)
	assert.Equal(t, []string{"graceful", "removed"}, closed.Stages)
}

func TestClientErrors(t *testing.T) {
	c := newTestClient(t, &stubBackend{previewErr: pool.ErrClosed})

	_, err := c.RequestPreview("/work/main.typ")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 503, apiErr.StatusCode)
	assert.Equal(t, pool.ErrClosed.Error(), apiErr.Message)
	assert.True(t, IsUnavailable(err))
}

func TestClientUnreachable(t *testing.T) {
	c := NewClient("127.0.0.1:1")
	_, err := c.Binary()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to reach tinymistd")
	assert.False(t, IsUnavailable(err))
}

func TestNewClientAddress(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:23600", NewClient("127.0.0.1:23600").base)
	assert.Equal(t, "http://localhost:1", NewClient("http://localhost:1/").base)
}
