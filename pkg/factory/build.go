// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package factory

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/united-manufacturing-hub/browserfleet/pkg/config"
	"github.com/united-manufacturing-hub/browserfleet/pkg/constants"
	"github.com/united-manufacturing-hub/browserfleet/pkg/launcher"
	"github.com/united-manufacturing-hub/browserfleet/pkg/standarderrors"
)

// generalPrefix marks the keys of a template that configure the factory
// instead of the launcher.
const generalPrefix = "$"

// template is a launcher template with its whole inheritance chain applied.
type template struct {
	launcherConfig map[string]any
	generalConfig  map[string]any
	name           string
	kind           string
	tags           []string
}

type builder struct {
	named      map[string]map[string]any
	resolved   map[string]*template
	inProgress map[string]bool
}

// Build resolves the launcher templates of cfg and creates the factories of
// every browser, in the order they are listed. Every kind registered in
// registry is a root template named after the kind. Browsers without any
// factory are left out of the result.
func Build(cfg config.Config, registry *launcher.Registry) (map[string][]*Factory, error) {
	if cfg.Browsers == nil {
		return nil, standarderrors.ErrMissingBrowsers
	}

	b := &builder{
		named:      cfg.Launchers,
		resolved:   map[string]*template{},
		inProgress: map[string]bool{},
	}

	for _, kind := range registry.Kinds() {
		b.resolved[kind] = &template{
			name:           kind,
			kind:           kind,
			tags:           []string{constants.TagPrefixLauncher + kind},
			launcherConfig: map[string]any{},
			generalConfig:  map[string]any{},
		}
	}

	browserNames := make([]string, 0, len(cfg.Browsers))
	for name := range cfg.Browsers {
		browserNames = append(browserNames, name)
	}

	sort.Strings(browserNames)

	result := make(map[string][]*Factory)

	for _, browserName := range browserNames {
		var factories []*Factory

		for _, ref := range cfg.Browsers[browserName] {
			var (
				t   *template
				err error
			)

			if ref.IsInline() {
				t, err = b.process(ref.Inline)
			} else {
				t, err = b.get(ref.Name)
			}

			if err != nil {
				return nil, fmt.Errorf("browser %s: %w", browserName, err)
			}

			f, err := newFactory(browserName, t, registry)
			if err != nil {
				return nil, fmt.Errorf("browser %s: %w", browserName, err)
			}

			factories = append(factories, f)
		}

		if len(factories) > 0 {
			result[browserName] = factories
		}
	}

	return result, nil
}

func (b *builder) get(name string) (*template, error) {
	if t, ok := b.resolved[name]; ok {
		return t, nil
	}

	raw, ok := b.named[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", standarderrors.ErrUnknownTemplate, name)
	}

	if b.inProgress[name] {
		return nil, fmt.Errorf("%w: %s", standarderrors.ErrTemplateCycle, name)
	}

	b.inProgress[name] = true

	t, err := b.process(raw)
	if err != nil {
		return nil, err
	}

	t.name = name
	t.tags = append(t.tags, constants.TagPrefixLauncher+name)
	b.resolved[name] = t

	return t, nil
}

// process resolves the parent of raw and layers raw on top of it.
func (b *builder) process(raw map[string]any) (*template, error) {
	launcherConfig := map[string]any{}
	generalConfig := map[string]any{}

	for key, value := range raw {
		if general, ok := strings.CutPrefix(key, generalPrefix); ok {
			generalConfig[general] = value
		} else {
			launcherConfig[key] = value
		}
	}

	parentName, ok := generalConfig["launcher"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing or invalid '$launcher' property: %v",
			standarderrors.ErrConfigInvalid, generalConfig["launcher"])
	}

	delete(generalConfig, "launcher")

	parent, err := b.get(parentName)
	if err != nil {
		return nil, err
	}

	return &template{
		name:           parent.name,
		kind:           parent.kind,
		tags:           append([]string(nil), parent.tags...),
		launcherConfig: config.Merge(config.Clone(launcherConfig), parent.launcherConfig),
		generalConfig:  config.Merge(config.Clone(generalConfig), parent.generalConfig),
	}, nil
}

func newFactory(browserName string, t *template, registry *launcher.Registry) (*Factory, error) {
	general := t.generalConfig

	f := &Factory{
		registry:       registry,
		LauncherConfig: config.Clone(t.launcherConfig),
		BrowserName:    browserName,
		Name:           t.name,
		Tag:            constants.TagPrefixFactory + uuid.NewString(),
		Kind:           t.kind,
		MaxInstances:   constants.DefaultFactoryMaxInstances,
	}

	if v, ok := general["maxInstances"]; ok && v != nil {
		n, ok := toInt(v)
		if !ok || n < 0 {
			return nil, fmt.Errorf("%w: invalid $maxInstances %v", standarderrors.ErrConfigInvalid, v)
		}

		f.MaxInstances = n
	}

	tags := append([]string(nil), t.tags...)
	tags = append(tags, constants.TagPrefixBrowser+browserName, f.Tag, constants.TagAny)

	if v, ok := general["tags"]; ok && v != nil {
		userTags, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: $tags must be a list, got %T", standarderrors.ErrConfigInvalid, v)
		}

		for _, tag := range userTags {
			tags = append(tags, constants.TagPrefixUser+fmt.Sprint(tag))
		}
	}

	f.Tags = removeDuplicates(tags)

	if v, ok := general["urlExtraParameters"]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: $urlExtraParameters must be a string, got %T", standarderrors.ErrConfigInvalid, v)
		}

		f.URLExtraParameters = s
	}

	f.ConnectionRetries = constants.DefaultConnectionRetries
	if n, ok := toInt(general["connectionRetries"]); ok && n > 0 {
		f.ConnectionRetries = n
	}

	f.RemainingConnectionRetries = f.ConnectionRetries

	var err error

	if f.Timeouts.Connecting, err = timeout(general, "connectingTimeout", constants.DefaultConnectingTimeout); err != nil {
		return nil, err
	}

	if f.Timeouts.Idle, err = timeout(general, "idleTimeout", constants.DefaultIdleTimeout); err != nil {
		return nil, err
	}

	if f.Timeouts.Disconnected, err = timeout(general, "disconnectedTimeout", constants.DefaultDisconnectedTimeout); err != nil {
		return nil, err
	}

	if f.Timeouts.Exiting, err = timeout(general, "exitingTimeout", constants.DefaultExitingTimeout); err != nil {
		return nil, err
	}

	f.publish()

	return f, nil
}

// timeout reads a timeout given in milliseconds or as a duration string.
// An absent or zero value selects the default.
func timeout(general map[string]any, key string, defaultValue time.Duration) (time.Duration, error) {
	v, ok := general[key]
	if !ok || v == nil {
		return defaultValue, nil
	}

	var d time.Duration

	if s, isString := v.(string); isString {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("%w: $%s: %w", standarderrors.ErrConfigInvalid, key, err)
		}

		d = parsed
	} else {
		ms, isNumber := toFloat(v)
		if !isNumber {
			return 0, fmt.Errorf("%w: $%s must be a number of milliseconds or a duration, got %T",
				standarderrors.ErrConfigInvalid, key, v)
		}

		d = time.Duration(ms * float64(time.Millisecond))
	}

	if d <= 0 {
		return defaultValue, nil
	}

	return d, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func toInt(v any) (int, bool) {
	f, ok := toFloat(v)
	if !ok {
		return 0, false
	}

	return int(f), true
}

func removeDuplicates(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))

	for _, v := range values {
		if seen[v] {
			continue
		}

		seen[v] = true
		out = append(out, v)
	}

	return out
}
