package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"quicinterop/internal/config"
)

// scriptPrefixes names the copies of hook scripts kept in the run directory.
func scriptPrefixes(s config.ScriptsConfig) map[string][]string {
	return map[string][]string{
		"spre":         s.ServerPre,
		"sprehot":      s.ServerPreHot,
		"sposthot":     s.ServerPostHot,
		"spost":        s.ServerPost,
		"cpre":         s.ClientPre,
		"cprehot":      s.ClientPreHot,
		"cposthot":     s.ClientPostHot,
		"cpost":        s.ClientPost,
		"sniffer_pre":  s.SnifferPre,
		"sniffer_post": s.SnifferPost,
	}
}

// copyScripts keeps a copy of every hook script next to the results, named
// <prefix>_<basename>.
func copyScripts(logDir string, s config.ScriptsConfig) error {
	for prefix, scripts := range scriptPrefixes(s) {
		for _, script := range scripts {
			dst := filepath.Join(logDir, prefix+"_"+filepath.Base(script))
			if err := copyFile(script, dst); err != nil {
				return fmt.Errorf("failed to copy %s: %w", script, err)
			}
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
