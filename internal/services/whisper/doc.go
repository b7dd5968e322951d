// Package whisper runs the transcription and speaker diarization helper
// script and decodes its JSON result.
//
// The script is invoked as
//
//	python3 <script> <video> <out.json> --model M --language L --max-speakers N
//
// with AI_DIARIZATION_METHOD and HF_TOKEN in its environment. The output file
// must be a JSON object carrying a success flag; anything else is reported as
// services.ErrMalformedOutput.
package whisper
