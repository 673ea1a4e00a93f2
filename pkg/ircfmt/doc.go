// Package ircfmt renders outbound IRC text:
//   - the small set of mIRC control codes the gateway emits (bold,
//     the grey "::" field separator)
//   - a length-bounded entry formatter that keeps every announcement
//     under a conservative per-line byte budget
//
// Splitting an overlong entry across several messages is out of
// scope: one entry, one line, with the description cut to fit.
package ircfmt
