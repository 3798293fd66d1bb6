// Package message defines the typed envelopes exchanged over DMOD's
// persistent duplex channels: the event-type discriminator, the Request and
// Response contracts, every concrete request/response pair, and the ordered
// registry the dispatcher uses to decode inbound frames.
//
// Wire format is one UTF-8 JSON object per logical message. There is no
// framing-level type tag; receivers disambiguate structurally by trying each
// registered type's decoder in registration order, so every request type
// must carry enough fields (a job_type, an action, a username/secret pair)
// for its decoder to accept only its own frames.
//
// Responses always carry the four-field envelope
// {"success": bool, "reason": string, "message": string, "data": object|null}.
// Constructors enforce the envelope invariant: a failed response never
// carries payload fields that imply a completed action, and a successful
// response must carry its required payload.
package message
