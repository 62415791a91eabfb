// Package model implements the presentation-model store shared between a thin
// client and its server.
//
// A PresentationModel is an ordered, named collection of Attributes. An
// Attribute is a single observable value cell with a process-unique id, an
// immutable property name, an optional qualifier and a tag. A Store is the
// authoritative in-memory registry of presentation models for one session.
//
// # Qualifiers
//
// Attributes sharing a qualifier form a same-value group: a change to one of
// them is applied to every other member synchronously, in the same operation,
// before the change is handed to the Synchronizer. Exactly one change is
// reported for the attribute that triggered it.
//
// # Mutation origin
//
// Every mutation entry point takes an explicit Origin. Local mutations are
// reported to the store's Synchronizer, which turns them into commands for
// the peer. Remote mutations are applied silently: the peer already knows
// about them, so reporting them again would echo forever.
//
//	store := model.NewStore(model.ClientSide, sync)
//	attr := model.NewAttribute(model.ClientSide, "firstName", "Ada",
//	    model.WithQualifier("person.firstName"))
//	pm := model.NewPresentationModel("person-1", "Person", []*model.Attribute{attr})
//	if err := store.Add(pm); err != nil {
//	    return err
//	}
//	attr.SetValue("Grace") // one ValueChanged is synchronized
//
// # Concurrency
//
// A Store serializes all mutations behind one mutex. Observers registered
// with Attribute.OnChange and Store.OnChange are invoked after the mutex is
// released, so they may mutate the store again.
package model
