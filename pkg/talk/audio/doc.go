// Package audio provides the talk client's microphone and speaker.
//
// Devices implements session.Media: the microphone is captured with malgo as
// mono 16-bit little-endian PCM and exposed as a session.MediaStream that is
// also an io.Reader; playback goes through a process-wide oto context shared
// by every per-session Context.
package audio
