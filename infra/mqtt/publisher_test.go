package mqtt

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremetrics "github.com/kilianp07/marstek/core/metrics"
	"github.com/kilianp07/marstek/core/model"
)

func unitEvent() coremetrics.UnitStateEvent {
	return coremetrics.UnitStateEvent{
		CycleID:       "c1",
		Unit:          "Venus A",
		PowerW:        -500,
		SoC:           55.5,
		EnergyKWh:     12.3,
		ACPowerW:      math.NaN(),
		RemoteControl: true,
		Command:       model.Command{Mode: model.ModeCharge, PowerW: 500},
		MaxChargeW:    2500,
		MaxDischargeW: 2000,
		Time:          time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestStatePublisherUnitState(t *testing.T) {
	mc := &memClient{}
	p, err := NewStatePublisher(mc, Config{TopicPrefix: "home"})
	require.NoError(t, err)

	require.NoError(t, p.RecordUnitState(unitEvent()))
	require.Len(t, mc.published, 1)
	msg := mc.published[0]
	assert.Equal(t, "home/battery/venus_a/state", msg.topic)
	assert.True(t, msg.retained)

	var st map[string]any
	require.NoError(t, json.Unmarshal([]byte(msg.payload), &st))
	assert.Equal(t, -500.0, st["power_w"])
	assert.Equal(t, 55.5, st["soc"])
	assert.Nil(t, st["ac_power_w"])
	assert.Equal(t, "charge", st["mode"])
	assert.Equal(t, 500.0, st["command_w"])
	assert.Equal(t, "2024-05-01T12:00:00Z", st["time"])
}

func TestStatePublisherDiscoveryOnce(t *testing.T) {
	mc := &memClient{}
	p, err := NewStatePublisher(mc, Config{Discovery: true})
	require.NoError(t, err)

	require.NoError(t, p.RecordUnitState(unitEvent()))
	require.NoError(t, p.RecordUnitState(unitEvent()))

	var configs, states int
	for _, m := range mc.published {
		switch {
		case strings.HasSuffix(m.topic, "/config"):
			configs++
			assert.True(t, strings.HasPrefix(m.topic, "homeassistant/sensor/marstek_battery_venus_a/"))
		case m.topic == "marstek/battery/venus_a/state":
			states++
		}
	}
	assert.Equal(t, len(unitSensors), configs)
	assert.Equal(t, 2, states)

	var hc HassConfig
	require.NoError(t, json.Unmarshal([]byte(mc.published[0].payload), &hc))
	assert.Equal(t, "marstek/status", hc.AvailabilityTopic)
	assert.Equal(t, "marstek/battery/venus_a/state", hc.StateTopic)
	assert.Equal(t, "marstek_battery_venus_a_power", hc.UniqueID)
	assert.Equal(t, "{{ value_json.power_w }}", hc.ValueTemplate)
}

func TestStatePublisherRetriesDiscoveryAfterFailure(t *testing.T) {
	mc := &memClient{fail: assert.AnError}
	p, err := NewStatePublisher(mc, Config{Discovery: true})
	require.NoError(t, err)
	assert.Error(t, p.RecordUnitState(unitEvent()))

	mc.fail = nil
	require.NoError(t, p.RecordUnitState(unitEvent()))
	assert.Len(t, mc.published, len(unitSensors)+1)
}

func TestStatePublisherCycle(t *testing.T) {
	mc := &memClient{}
	p, err := NewStatePublisher(mc, Config{})
	require.NoError(t, err)

	ev := coremetrics.CycleEvent{
		CycleID:    "c2",
		MasterMode: model.MasterFull,
		Strategy:   model.StrategySelfConsumption,
		Command:    model.Command{Mode: model.ModeDischarge, PowerW: 1500},
		GridPowerW: 1500,
		AvgSoC:     math.NaN(),
		Outcome:    coremetrics.OutcomeDispatched,
		Assignments: []coremetrics.UnitAssignment{
			{Unit: "a", Command: model.Command{Mode: model.ModeDischarge, PowerW: 1000}},
			{Unit: "b", Command: model.Command{Mode: model.ModeCharge, PowerW: 500}, Error: "timeout"},
		},
		Duration: 120 * time.Millisecond,
		Time:     time.Unix(0, 0),
	}
	require.NoError(t, p.RecordCycle(ev))
	msg, ok := mc.last("marstek/controller/state")
	require.True(t, ok)

	var st ControllerState
	require.NoError(t, json.Unmarshal([]byte(msg.payload), &st))
	assert.Equal(t, "Full control", st.MasterMode)
	assert.Equal(t, "Self-consumption", st.Strategy)
	assert.Equal(t, uint16(1500), st.CommandW)
	assert.Nil(t, st.AvgSoC)
	assert.Equal(t, int64(120), st.DurationMS)
	assert.Equal(t, map[string]float64{"a": 1000, "b": -500}, st.Assignments)
	assert.Equal(t, map[string]string{"b": "timeout"}, st.Errors)
}
