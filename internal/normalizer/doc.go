// Package normalizer canonicalizes Arabic legal text before embedding,
// caching or indexing.
//
// Normalization is a pure function applied identically to indexed chunk
// content and incoming queries. It removes harakat, tanwin and tatweel,
// folds alef and hamza-bearing letter variants to a single form, collapses
// whitespace runs, and bounds length with structured sampling (first third,
// middle third, last third) instead of tail truncation.
//
// Taa marbuta is intentionally left unfolded: an earlier revision folded it
// to haa and the fold was reverted because it harmed linguistic correctness.
package normalizer
