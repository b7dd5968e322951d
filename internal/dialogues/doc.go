// Package dialogues turns a project's video into dialogue timecodes.
//
// The transcription script does the speech recognition and speaker
// diarization. This package validates the request, tracks estimated progress
// while the script runs, then creates one character per detected speaker and
// one timecode per utterance inside a single transaction.
//
// Speakers are ranked by the numeric suffix of their diarization label
// (SPEAKER_00 before SPEAKER_01). When the project has at least as many rythmo
// lines as speakers, each speaker gets the line matching its rank; otherwise
// every timecode goes on line 1. Characters take colors from a fixed ten-color
// palette, wrapping around when there are more speakers.
package dialogues
