package vcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Recognize(ctx context.Context, png []byte) (string, error) {
	args := m.Called(ctx, png)
	return args.String(0), args.Error(1)
}

func captcha(t *testing.T) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, gradient()))
	return buf.Bytes()
}

func TestReader_Read(t *testing.T) {
	log, hook := test.NewNullLogger()
	engine := &mockEngine{}
	engine.On("Recognize", mock.Anything, mock.Anything).Return(" 12 34\n", nil)

	res := NewReader(engine, WithLogger(log)).Read(context.Background(), captcha(t))

	assert.Equal(t, Ok, res.Outcome)
	assert.Equal(t, "1234", res.Code)
	assert.NoError(t, res.Err)
	engine.AssertNumberOfCalls(t, "Recognize", 1)
	assert.Contains(t, hook.LastEntry().Message, "1234")
}

func TestReader_Read_EmptyCodeIsOk(t *testing.T) {
	log, _ := test.NewNullLogger()
	engine := &mockEngine{}
	engine.On("Recognize", mock.Anything, mock.Anything).Return("", nil)

	res := NewReader(engine, WithLogger(log)).Read(context.Background(), captcha(t))

	assert.Equal(t, Ok, res.Outcome)
	assert.Empty(t, res.Code)
}

func TestReader_Read_DecodeFailure(t *testing.T) {
	log, _ := test.NewNullLogger()
	engine := &mockEngine{}

	res := NewReader(engine, WithLogger(log)).Read(context.Background(), []byte("nope"))

	assert.Equal(t, Transient, res.Outcome)
	assert.Error(t, res.Err)
	engine.AssertNotCalled(t, "Recognize", mock.Anything, mock.Anything)
}

func TestReader_Read_EngineFailures(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Outcome
	}{
		{"transient", errors.New("blurry"), Transient},
		{"unavailable", fmt.Errorf("no eng.traineddata: %w", ErrEngineUnavailable), Fatal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			log, _ := test.NewNullLogger()
			engine := &mockEngine{}
			engine.On("Recognize", mock.Anything, mock.Anything).Return("", tc.err)

			res := NewReader(engine, WithLogger(log)).Read(context.Background(), captcha(t))

			assert.Equal(t, tc.want, res.Outcome)
			assert.ErrorIs(t, res.Err, tc.err)
		})
	}
}

func TestReader_DebugDir(t *testing.T) {
	dir := t.TempDir()
	log, _ := test.NewNullLogger()
	engine := &mockEngine{}
	engine.On("Recognize", mock.Anything, mock.Anything).Return("42", nil)

	r := NewReader(engine, WithLogger(log), WithDebugDir(dir))
	r.Read(context.Background(), captcha(t))
	r.Read(context.Background(), captcha(t))

	files, err := filepath.Glob(filepath.Join(dir, "vcode-*.png"))
	require.NoError(t, err)
	assert.Len(t, files, 2)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(data))
	assert.NoError(t, err)
}

func TestReader_NoDebugDirWritesNothing(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(wd) }()

	log, _ := test.NewNullLogger()
	engine := &mockEngine{}
	engine.On("Recognize", mock.Anything, mock.Anything).Return("42", nil)

	NewReader(engine, WithLogger(log)).Read(context.Background(), captcha(t))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
