package export

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SyncBoard/internal/state"
)

func sampleShapes() []state.Shape {
	rect := state.NewRectangle(0, 0, 200, 100)
	rect.Style.Fill = "#ffa500"
	rect.Style.Rotation = 15

	diamond := state.NewDiamond(250, 0, 120, 80)
	diamond.Style.Border = state.BorderDashed

	circle := state.NewCircle(100, 300, 60, 40)
	circle.Style.Border = state.BorderDotted
	circle.Style.Fill = "#00ff00"

	text := state.NewText(300, 200, "Héllo\nboard")
	l := text.Geometry.(state.Label)
	l.Width, l.Align, l.FontFamily = 200, "center", "Times"
	text.Geometry = l

	return []state.Shape{rect, diamond, circle, text, state.NewArrow(0, 400, 400, 450)}
}

func TestWrite_AllKinds(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleShapes(), Options{Title: "main", Grid: true}))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
	assert.Greater(t, buf.Len(), 500)
}

func TestWrite_EmptyBoard(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, nil, Options{}))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestWrite_MissingGeometry(t *testing.T) {
	bad := state.Shape{ID: "x", Kind: state.KindRectangle, Style: state.DefaultStyle}
	err := Write(io.Discard, []state.Shape{bad}, Options{})
	assert.ErrorIs(t, err, ErrNoGeometry)
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.pdf")
	require.NoError(t, WriteFile(path, sampleShapes(), Options{}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}

type fakeUploader struct {
	input *s3manager.UploadInput
	body  []byte
	err   error
}

func (f *fakeUploader) UploadWithContext(_ aws.Context, in *s3manager.UploadInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3manager.UploadOutput{Location: "https://bucket.s3/" + *in.Key}, nil
}

func TestS3_Upload(t *testing.T) {
	up := &fakeUploader{}
	s := newS3(up, S3Config{Bucket: "exports", Prefix: "team"}, nil)

	key := s.ObjectKey("main", time.Date(2024, 5, 1, 12, 30, 0, 0, time.FixedZone("x", 3600)))
	assert.Equal(t, "team/boards/main/20240501T113000Z.pdf", key)

	loc, err := s.Upload(context.Background(), key, bytes.NewReader([]byte("%PDF-1.3")))
	require.NoError(t, err)
	assert.Equal(t, "https://bucket.s3/"+key, loc)
	assert.Equal(t, "exports", *up.input.Bucket)
	assert.Equal(t, "application/pdf", *up.input.ContentType)
	assert.Equal(t, []byte("%PDF-1.3"), up.body)

	up.err = errors.New("access denied")
	_, err = s.Upload(context.Background(), key, bytes.NewReader(nil))
	assert.ErrorContains(t, err, "s3://exports/"+key)
}

func TestNewS3_RequiresBucket(t *testing.T) {
	_, err := NewS3(S3Config{Region: "us-east-1"}, nil)
	assert.ErrorIs(t, err, ErrNoBucket)
}
