// Package notifier is the alarm clock behind reminder alerts.
//
// Primary alerts are one-shot timers; backup alerts are cron entries that
// repeat at a fixed interval anchored on the trigger instant. When an alarm
// goes off, the rendered alert enters a bounded queue served by a worker pool
// that rate-limits and retries delivery through a transport.Adapter.
//
// # Events
//
// A delivered alert is reported as a relay.Event of kind "fired". Inline
// keyboard callbacks ("rmd|<reminder>|<action>") become "activated" and
// "action_chosen" events. Lifecycle signals (armed, cancelled, delivered,
// failed, dropped) are published on the event bus.
package notifier
