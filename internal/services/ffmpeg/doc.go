// Package ffmpeg wraps the ffmpeg and ffprobe invocations used by the media
// pipelines.
//
// Scene detection runs ffmpeg's scene score filter and parses the pts_time
// values showinfo prints on stderr. Audio extraction produces the 44.1kHz
// stereo PCM file the source separation script expects. Probe decodes
// ffprobe's JSON so callers can turn observed timestamps into progress.
//
// Every invocation goes through procrun, so cancellation, timeouts and stderr
// tails behave the same as for the Python helpers.
package ffmpeg
