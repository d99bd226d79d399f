package manager

import (
	"fmt"

	"github.com/cuemby/tinymistd/pkg/types"
)

// The manager is the metrics collector's source

func (m *Manager) PreviewCount() int {
	return m.pool.Len()
}

func (m *Manager) AcquisitionState() string {
	return m.scheduler.State().String()
}

func (m *Manager) BinaryPresent() bool {
	return fileExists(m.resolver.Resolve().LocalPath)
}

func (m *Manager) LanguageServerRunning() (bool, string) {
	p, _ := m.languageServer()
	if p == nil {
		return false, "not started"
	}
	if p.State() == types.ServiceRunning {
		return true, ""
	}
	return false, fmt.Sprintf("language server %s", p.State())
}
