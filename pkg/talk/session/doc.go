// Package session implements the talk button's conversation lifecycle.
//
// A Controller moves between three states:
//
//	idle ──toggle──▶ connecting ──ok──▶ active ──toggle──▶ idle
//	                     │
//	                     └──failure──▶ idle
//
// Starting a conversation fetches a session token (with a bounded, fixed-delay
// retry), acquires the microphone and an audio output context, then opens a
// voice session. Stopping always releases the microphone tracks and the audio
// context, even when the voice session refuses to stop cleanly.
//
// Toggles that arrive while a transition is in flight are ignored.
//
// State changes and voice callbacks are published as Events on a single
// unbounded channel. View folds those events into what a button UI renders.
package session
