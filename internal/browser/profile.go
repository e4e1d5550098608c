package browser

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// writeProfile seeds a Chrome user-data directory whose preferences save
// downloads to downloadDir without prompting and download PDFs instead of
// opening them in the built-in viewer.
func writeProfile(userDataDir, downloadDir string) error {
	prefs := map[string]any{
		"download": map[string]any{
			"default_directory":   downloadDir,
			"prompt_for_download": false,
			"directory_upgrade":   true,
		},
		"plugins": map[string]any{
			"always_open_pdf_externally": true,
		},
	}
	data, err := json.Marshal(prefs)
	if err != nil {
		return err
	}

	dir := filepath.Join(userDataDir, "Default")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "Preferences"), data, 0o600)
}
