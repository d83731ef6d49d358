package extraction

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"yaha-bot/internal/domain"
)

const maxTextFileBytes = 256 << 10

// TextFile reads plain-text attachments from dir. A ref is a path relative to
// dir; anything escaping it, or any file that is not UTF-8, is reported as an
// error result.
func TextFile(dir string) Adapter {
	return AdapterFunc(func(ctx context.Context, ref domain.MediaRef) domain.ExtractionResult {
		if err := ctx.Err(); err != nil {
			return domain.ExtractionResult{Error: fmt.Sprintf("extraction: %v", err)}
		}
		rel := filepath.Clean(ref.Ref)
		if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return domain.ExtractionResult{Error: "extraction: ref outside media directory"}
		}
		f, err := os.Open(filepath.Join(dir, rel))
		if err != nil {
			return domain.ExtractionResult{Error: fmt.Sprintf("extraction: open %s: %v", rel, err)}
		}
		defer f.Close()

		b, err := io.ReadAll(io.LimitReader(f, maxTextFileBytes))
		if err != nil {
			return domain.ExtractionResult{Error: fmt.Sprintf("extraction: read %s: %v", rel, err)}
		}
		if !utf8.Valid(b) {
			return domain.ExtractionResult{Error: "extraction: file is not UTF-8 text"}
		}
		return domain.ExtractionResult{Text: string(b), Confidence: 1}
	})
}
