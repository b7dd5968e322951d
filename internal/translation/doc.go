// Package translation rewrites every dialogue timecode of a project in a
// target language.
//
// Two kinds of backend exist. A BatchBackend (the NLLB script) receives every
// segment in one call. A plain Backend (MyMemory) is called once per segment
// with a pause between requests; individual failures are counted and reported
// in the completion message instead of failing the job, unless every segment
// fails. In both modes the translated texts are written in one transaction at
// the end, so a cancelled run never leaves a half-translated project.
package translation
