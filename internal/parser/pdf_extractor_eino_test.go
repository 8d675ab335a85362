package parser

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEinoPDFTextExtractor(t *testing.T) {
	extractor, err := NewEinoPDFTextExtractor(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, extractor.parser)
	assert.Equal(t, defaultPDFParseTimeout, extractor.timeout)
}

func TestExtractTextRejectsEmptyInput(t *testing.T) {
	extractor, err := NewEinoPDFTextExtractor(context.Background())
	require.NoError(t, err)

	_, err = extractor.ExtractText(context.Background(), nil, "empty.pdf")
	assert.Error(t, err)
}

func TestExtractTextRejectsNonPDF(t *testing.T) {
	extractor, err := NewEinoPDFTextExtractor(context.Background())
	require.NoError(t, err)

	_, err = extractor.ExtractText(context.Background(), []byte("this is not a pdf"), "fake.pdf")
	assert.Error(t, err)
}

// 需要 testdata/sample_resume.pdf，缺失时跳过
func TestExtractTextFromSampleResume(t *testing.T) {
	path := filepath.Join("..", "..", "testdata", "sample_resume.pdf")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Skip("找不到测试PDF文件，跳过测试")
	}

	extractor, err := NewEinoPDFTextExtractor(context.Background())
	require.NoError(t, err)

	text, err := extractor.ExtractText(context.Background(), data, path)
	require.NoError(t, err)
	assert.NotEmpty(t, text)
}
