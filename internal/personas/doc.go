// Package personas manages reusable actor identities: their voice, avatar
// image and personality. Conversations reference personas by id and jobs may
// borrow one for voice and avatar defaults.
//
// A YAML catalog can seed the store at daemon start; seeded entries update
// existing personas in place and never remove ones created through the API.
package personas
