/*
Package stepwise runs multi-step conversations over a messaging channel.

A conversation (a survey, an intake form, a ticket lookup) is a short series of
prompts sent to one user, identified by a phone number. Users answer by typing
or by clicking buttons, and the channel may deliver the same click or message
more than once, or concurrently. stepwise advances each conversation exactly
once per logical answer.

# Concept

Every answer goes through the same protocol:

  - validate the answer and its step against a cached snapshot;
  - verify the expected step against the authoritative progress store;
  - commit with a conditional write that only succeeds if the stored step is unchanged;
  - refresh the cache only after the commit succeeded.

The store's conditional write is the single serialization point. Stale clicks,
redeliveries and lost races end silently without touching the store.

# Usage

	steps, _ := catalog.Load("catalog.yaml")
	eng, err := stepwise.New(
		stepwise.WithStore(redis.NewFromClient(client)),
		stepwise.WithChannel(ch),
		stepwise.WithSteps(steps),
		stepwise.WithDirectory(steps),
	)
	if err != nil {
		log.Fatal(err)
	}
	go eng.Run(ctx)

	eng.Start(ctx, session.StartRequest{Identity: "+55 11 99999-0000", Type: "survey"})
	eng.Dispatch(ctx, event) // for every inbound webhook event
*/
package stepwise
