// Package events defines the controller events emitted on the event bus.
//
// Available event types:
//   - UnitRefreshed: a battery was polled
//   - CycleCompleted: a control cycle finished, with its dispatch result
package events
