package mqtt

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremqtt "github.com/kilianp07/marstek/core/mqtt"
	"github.com/kilianp07/marstek/core/params"
)

type memMessage struct {
	topic    string
	payload  string
	retained bool
}

// memClient implements core mqtt.Client in memory.
type memClient struct {
	mu        sync.Mutex
	subs      map[string]coremqtt.Handler
	published []memMessage
	fail      error
}

func (m *memClient) Publish(topic string, payload []byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.published = append(m.published, memMessage{topic, string(payload), retained})
	return nil
}

func (m *memClient) Subscribe(topic string, h coremqtt.Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs == nil {
		m.subs = make(map[string]coremqtt.Handler)
	}
	m.subs[topic] = h
	return nil
}

func (m *memClient) Disconnect() {}

func (m *memClient) last(topic string) (memMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.published) - 1; i >= 0; i-- {
		if m.published[i].topic == topic {
			return m.published[i], true
		}
	}
	return memMessage{}, false
}

func TestParamSubscriberUpdatesStore(t *testing.T) {
	mc := &memClient{}
	store := params.NewStore()
	sub, err := NewParamSubscriber(mc, store, "marstek/")
	require.NoError(t, err)
	require.NoError(t, sub.Start())
	h := mc.subs["marstek/param/+/set"]
	require.NotNil(t, h)

	h("marstek/param/grid_power/set", []byte(" 512.5 "))
	h("marstek/param/timed_has_b/set", []byte("on"))
	h("marstek/param/strategy/set", []byte("Self-consumption"))
	h("marstek/param/battery.2.max_charge/set", []byte("1200"))

	assert.InDelta(t, 512.5, store.Number(params.KeyGridPower, 0), 1e-9)
	assert.True(t, store.Bool(params.KeyTimedHasB, false))
	assert.Equal(t, "Self-consumption", store.Text(params.KeyStrategy, ""))
	assert.InDelta(t, 1200, store.Number(params.UnitKey(2, params.UnitMaxCharge), 0), 1e-9)

	echo, ok := mc.last("marstek/param/grid_power/state")
	require.True(t, ok)
	assert.Equal(t, "512.5", echo.payload)
	assert.True(t, echo.retained)
}

func TestParamSubscriberIgnoresForeignTopics(t *testing.T) {
	mc := &memClient{}
	store := params.NewStore()
	sub, err := NewParamSubscriber(mc, store, "marstek")
	require.NoError(t, err)

	sub.handle("other/param/x/set", []byte("1"))
	sub.handle("marstek/param//set", []byte("1"))
	sub.handle("marstek/param/x/state", []byte("1"))
	assert.Empty(t, store.Snapshot())
	assert.Empty(t, mc.published)
}

func TestParamSubscriberPublishAll(t *testing.T) {
	mc := &memClient{}
	store := params.NewStore()
	store.SetNumber(params.KeyKp, 0.5)
	store.SetBool(params.KeyTimedHasC, false)
	store.SetText(params.KeyMasterMode, "Full control")
	sub, err := NewParamSubscriber(mc, store, "marstek")
	require.NoError(t, err)

	require.NoError(t, sub.PublishAll())
	require.Len(t, mc.published, 3)
	m, _ := mc.last(sub.StateTopic(params.KeyKp))
	assert.Equal(t, "0.5", m.payload)
	m, _ = mc.last(sub.StateTopic(params.KeyTimedHasC))
	assert.Equal(t, "off", m.payload)
	m, _ = mc.last(sub.StateTopic(params.KeyMasterMode))
	assert.Equal(t, "Full control", m.payload)
}

func TestNewParamSubscriberRejectsNil(t *testing.T) {
	_, err := NewParamSubscriber(nil, params.NewStore(), "p")
	assert.Error(t, err)
	_, err = NewParamSubscriber(&memClient{}, nil, "p")
	assert.Error(t, err)
}

func TestFormatValueRoundTrip(t *testing.T) {
	store := params.NewStore()
	for _, v := range []any{12.25, true, false, "Charge"} {
		store.SetRaw("k", FormatValue(v))
		assert.Equal(t, v, store.Snapshot()["k"])
	}
}
