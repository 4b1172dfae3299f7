// Package tesseract recognizes verification codes with libtesseract.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/lucmann/autotry/cmd/autotry/vcode"
)

const whitelist = "0123456789"

type Engine struct {
	language string
}

func New(language string) (*Engine, error) {
	langs, err := gosseract.GetAvailableLanguages()
	if err != nil {
		return nil, fmt.Errorf("error listing tesseract languages: %w: %v", vcode.ErrEngineUnavailable, err)
	}
	for _, l := range langs {
		if l == language {
			return &Engine{language: language}, nil
		}
	}

	return nil, fmt.Errorf("%w: language %q not installed (have %s)",
		vcode.ErrEngineUnavailable, language, strings.Join(langs, ","))
}

// Recognize reads digits from png, treating the image as one block of text.
func (e *Engine) Recognize(ctx context.Context, png []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer func() { _ = client.Close() }()

	if err := client.SetLanguage(e.language); err != nil {
		return "", fmt.Errorf("error setting language: %w", err)
	}
	if err := client.SetWhitelist(whitelist); err != nil {
		return "", fmt.Errorf("error setting whitelist: %w", err)
	}
	// psm 6, not PSM_SINGLE_LINE (psm 7). The captcha is a single line of
	// digits either way, and psm 6 is the mode it has always been read with.
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return "", fmt.Errorf("error setting page segmentation: %w", err)
	}
	if err := client.SetImageFromBytes(png); err != nil {
		return "", fmt.Errorf("error loading image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("error recognizing text: %w", err)
	}

	return text, nil
}
