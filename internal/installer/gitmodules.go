package installer

import (
	"fmt"
	"os"
	"strings"
)

// removeSubmoduleStanza deletes every stanza of the .gitmodules file at path
// whose header names the plugin. A stanza is the header and the key lines
// following it (path and url, plus branch when added with -b). It reports
// whether anything was removed.
func removeSubmoduleStanza(path, name string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	lines := strings.Split(string(data), "\n")
	kept := make([]string, 0, len(lines))
	removed := false

	for i := 0; i < len(lines); i++ {
		if stanzaNames(lines[i], name) {
			removed = true
			for i+1 < len(lines) && isStanzaKey(lines[i+1]) {
				i++
			}
			continue
		}
		kept = append(kept, lines[i])
	}

	if !removed {
		return false, nil
	}

	if err := writeFileAtomic(path, []byte(strings.Join(kept, "\n"))); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}

// stanzaNames reports whether line is a [submodule "..."] header for name,
// either by exact name or by a path ending in /name.
func stanzaNames(line, name string) bool {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "[") {
		return false
	}

	start := strings.Index(line, `"`)
	end := strings.LastIndex(line, `"`)
	if start < 0 || end <= start {
		return false
	}

	quoted := line[start+1 : end]
	return quoted == name || strings.HasSuffix(quoted, "/"+name)
}

// isStanzaKey reports whether line is a key = value line inside a stanza.
func isStanzaKey(line string) bool {
	line = strings.TrimSpace(line)
	return line != "" && !strings.HasPrefix(line, "[") && strings.Contains(line, "=")
}
