// Package assets loads the files an application feeds the renderer: compiled
// shaders and images.
package assets

import (
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/benzin/engine/core"
)

type Kind int

const (
	KindShader Kind = iota
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindShader:
		return "shader"
	case KindImage:
		return "image"
	}
	return "unknown"
}

var ErrUnknownKind = errors.New("no loader registered for asset kind")

// Asset is a loaded file. Data is []byte for shaders and *Image for images.
type Asset struct {
	Name     string
	FullPath string
	Kind     Kind
	Data     any
}

type Loader interface {
	Load(path string) (*Asset, error)
}

// Manager resolves asset names against a root directory.
type Manager struct {
	dir string

	mutex   sync.RWMutex
	loaders map[Kind]Loader
}

func NewManager(dir string) *Manager {
	m := &Manager{dir: dir, loaders: make(map[Kind]Loader)}
	m.Register(KindShader, &ShaderLoader{})
	m.Register(KindImage, &ImageLoader{})
	return m
}

func (m *Manager) Dir() string { return m.dir }

// Register replaces the loader for kind.
func (m *Manager) Register(kind Kind, l Loader) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.loaders[kind] = l
}

func (m *Manager) Load(kind Kind, name string) (*Asset, error) {
	m.mutex.RLock()
	l, ok := m.loaders[kind]
	m.mutex.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownKind, "%s", kind)
	}
	asset, err := l.Load(filepath.Join(m.dir, name))
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s %q", kind, name)
	}
	asset.Name = name
	core.LogDebug("loaded %s %s", kind, asset.FullPath)
	return asset, nil
}

// Shader returns the SPIR-V words of a compiled shader.
func (m *Manager) Shader(name string) ([]byte, error) {
	asset, err := m.Load(KindShader, name)
	if err != nil {
		return nil, err
	}
	return asset.Data.([]byte), nil
}

func (m *Manager) Image(name string) (*Image, error) {
	asset, err := m.Load(KindImage, name)
	if err != nil {
		return nil, err
	}
	return asset.Data.(*Image), nil
}
