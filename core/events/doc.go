// Package events defines the typed dictation event contract.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - session.*
//   - transcript.*
//   - refinement.*
//
// session events
//
//   - SessionStatus (session.status): the most advanced stage currently in
//     flight. Emitted whenever it changes.
//   - SessionError (session.error): a fatal session fault. Always preceded by
//     SessionStatus with StatusError.
//
// transcript events
//
//   - TranscriptPartial (transcript.partial): mutable hypothesis for an open
//     segment. A higher revision replaces the previous one.
//   - TranscriptFinal (transcript.final): immutable transcript of a closed
//     segment, exactly one per segment. May be empty with a warning when
//     recognition failed.
//
// refinement events
//
//   - Correction (refinement.correction): corrected final transcript.
//   - Translation (refinement.translation): translated final transcript.
//
// Within a segment partials precede the final, finals follow segment close
// order and refinements follow final order.
package events
