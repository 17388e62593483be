package mqtt

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	coremqtt "github.com/kilianp07/marstek/core/mqtt"
	"github.com/kilianp07/marstek/core/params"
	"github.com/kilianp07/marstek/infra/logger"
)

// ParamSubscriber feeds operator settings and live sensor values received on
// <prefix>/param/<key>/set into a parameter store. Every accepted value is
// echoed, retained, on <prefix>/param/<key>/state.
type ParamSubscriber struct {
	client coremqtt.Client
	store  *params.Store
	prefix string
	logger logger.Logger
}

// NewParamSubscriber returns a subscriber writing to store.
func NewParamSubscriber(client coremqtt.Client, store *params.Store, prefix string) (*ParamSubscriber, error) {
	if client == nil {
		return nil, errors.New("mqtt: nil client")
	}
	if store == nil {
		return nil, errors.New("mqtt: nil parameter store")
	}
	return &ParamSubscriber{
		client: client,
		store:  store,
		prefix: strings.TrimSuffix(prefix, "/"),
		logger: logger.New("mqtt_params"),
	}, nil
}

// SetTopic returns the command topic for key.
func (s *ParamSubscriber) SetTopic(key string) string {
	return s.prefix + "/param/" + key + "/set"
}

// StateTopic returns the retained state topic for key.
func (s *ParamSubscriber) StateTopic(key string) string {
	return s.prefix + "/param/" + key + "/state"
}

// Start subscribes to the wildcard command topic.
func (s *ParamSubscriber) Start() error {
	return s.client.Subscribe(s.prefix+"/param/+/set", s.handle)
}

// PublishAll echoes every stored value so dashboards show the initial
// configuration.
func (s *ParamSubscriber) PublishAll() error {
	snap := s.store.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var errs error
	for _, k := range keys {
		errs = errors.Join(errs, s.client.Publish(s.StateTopic(k), []byte(FormatValue(snap[k])), true))
	}
	return errs
}

func (s *ParamSubscriber) handle(topic string, payload []byte) {
	key, ok := s.keyOf(topic)
	if !ok {
		s.logger.Warnf("ignoring message on %s", topic)
		return
	}
	s.store.SetRaw(key, string(payload))
	s.logger.Debugw("parameter updated", map[string]any{"key": key, "value": string(payload)})
	if err := s.client.Publish(s.StateTopic(key), []byte(strings.TrimSpace(string(payload))), true); err != nil {
		s.logger.Warnf("echo %s: %v", key, err)
	}
}

func (s *ParamSubscriber) keyOf(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, s.prefix+"/param/")
	if !ok {
		return "", false
	}
	key, ok := strings.CutSuffix(rest, "/set")
	if !ok || key == "" || strings.Contains(key, "/") {
		return "", false
	}
	return key, true
}

// FormatValue renders a stored parameter the way SetRaw parses it back.
func FormatValue(v any) string {
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "on"
		}
		return "off"
	case string:
		return t
	default:
		return ""
	}
}
