/*
Package markov provides a database-backed toolkit for building word n-gram
Markov chains from a corpus of sentences and generating new sentences by
randomly walking them.

Every chain lives under a Root, which fixes the state size (the number of
words per chain unit). Ingested sentences grow a graph of Entries (observed
word blocks), Fragments (start, end and continuation windows) and References
(provenance links back to the input sentences and their optional payloads).
Generation samples a start fragment, walks continuations until it lands on a
known end fragment, and retries whole attempts until one passes the caller's
filter.

Persistence goes through the Store interface. SQLStore implements it on top
of database/sql and SQLite; call SetupSchema once on a fresh database.
Whole graphs can be exported to JSON and imported back, including the older
flat-map export format.
*/
package markov
