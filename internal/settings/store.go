package settings

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/juju/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type file struct {
	Current  string                     `yaml:"current"`
	Profiles map[string]PrinterSettings `yaml:"profiles"`
}

// Store keeps named settings profiles in a YAML file. One profile is
// current; Snapshot and Update act on it. A Store with an empty path
// lives in memory only.
type Store struct {
	log  *zap.Logger
	path string

	mu       sync.RWMutex
	current  string
	profiles map[string]PrinterSettings

	// saveMu orders file writes so the last snapshot taken is the last
	// one renamed into place
	saveMu sync.Mutex
}

// Open loads path, or starts from defaults when the file does not exist
func Open(path string, log *zap.Logger) (*Store, error) {
	s := &Store{
		log:      log.Named("settings"),
		path:     path,
		current:  DefaultProfile,
		profiles: map[string]PrinterSettings{DefaultProfile: Defaults()},
	}
	if path == "" {
		return s, nil
	}

	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.log.Info("settings file not found, using defaults", zap.String("path", path))
		return s, nil
	}
	if err != nil {
		return nil, errors.Annotatef(err, "read settings %s", path)
	}

	var f file
	if err := yaml.Unmarshal(buf, &f); err != nil {
		return nil, errors.Annotatef(err, "parse settings %s", path)
	}
	for name, p := range f.Profiles {
		p.CurrentProfile = name
		p.Normalize()
		s.profiles[name] = p
	}
	if _, ok := s.profiles[f.Current]; ok {
		s.current = f.Current
	}
	s.log.Debug("settings loaded", zap.String("profile", s.current), zap.Int("profiles", len(s.profiles)))
	return s, nil
}

// Snapshot returns a copy of the current profile
func (s *Store) Snapshot() PrinterSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profiles[s.current]
}

// Update applies fn to the current profile and persists the result
func (s *Store) Update(fn func(*PrinterSettings)) (PrinterSettings, error) {
	s.mu.Lock()
	p := s.profiles[s.current]
	fn(&p)
	if err := p.Validate(); err != nil {
		s.mu.Unlock()
		return PrinterSettings{}, err
	}
	p.Normalize()
	p.CurrentProfile = s.current
	s.profiles[s.current] = p
	s.mu.Unlock()

	return p, s.Save()
}

// Profiles lists profile names, sorted
func (s *Store) Profiles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SwitchProfile makes name current, creating it from the current profile
// when it does not exist
func (s *Store) SwitchProfile(name string) (PrinterSettings, error) {
	if name == "" {
		return PrinterSettings{}, errors.NotValidf("empty profile name")
	}
	s.mu.Lock()
	p, ok := s.profiles[name]
	if !ok {
		p = s.profiles[s.current]
		p.CurrentProfile = name
		s.profiles[name] = p
	}
	s.current = name
	s.mu.Unlock()

	s.log.Info("profile switched", zap.String("profile", name), zap.Bool("created", !ok))
	return p, s.Save()
}

// DeleteProfile removes a profile. The default profile cannot be removed;
// deleting the current one switches back to default.
func (s *Store) DeleteProfile(name string) error {
	if name == DefaultProfile {
		return errors.NotValidf("deleting %s profile", DefaultProfile)
	}
	s.mu.Lock()
	if _, ok := s.profiles[name]; !ok {
		s.mu.Unlock()
		return errors.NotFoundf("profile %q", name)
	}
	delete(s.profiles, name)
	if s.current == name {
		s.current = DefaultProfile
	}
	s.mu.Unlock()
	return s.Save()
}

// ResetToDefaults restores factory values in the current profile
func (s *Store) ResetToDefaults() (PrinterSettings, error) {
	s.mu.Lock()
	p := Defaults()
	p.CurrentProfile = s.current
	s.profiles[s.current] = p
	s.mu.Unlock()

	s.log.Info("settings reset", zap.String("profile", p.CurrentProfile))
	return p, s.Save()
}

// Save writes all profiles. The file is replaced atomically.
func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	f := file{Current: s.current, Profiles: make(map[string]PrinterSettings, len(s.profiles))}
	for k, v := range s.profiles {
		f.Profiles[k] = v
	}
	s.mu.RUnlock()

	buf, err := yaml.Marshal(&f)
	if err != nil {
		return errors.Annotate(err, "encode settings")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Trace(err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errors.Annotate(err, "create settings temp file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return errors.Annotatef(err, "write settings %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return errors.Trace(err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(os.Rename(tmp.Name(), s.path))
}
