// Package avatar resolves avatars by content hash. The following happens once
// a participant asks the Cache for a hash.
//
//	Cache.Resolve(hash, waiter)
//	  ├─ Loaded entry → return the avatar (nil when it failed)
//	  ├─ Loading entry → subscribe waiter, return pending
//	  ├─ Known entry (local file) → Loading, subscribe, start load
//	  ├─ absent while gated → Queued, subscribe; on release load it if it
//	  │                       was added meanwhile, otherwise download it
//	  └─ absent → Loading + pending download, subscribe, start:
//	       LookingUp   Lookup.Lookup(hash)          → download URL
//	       Downloading Downloader.Download(url)     → bytes (stall aborts)
//	                   Storage.Save(url, bytes)     → local path
//	       Loading     Loader.Load(avatar)
//	       Done        every waiter is called once with the avatar or nil
//
// An entry never leaves Done for the rest of the session. Failures of any
// step are logged and stored as a nil avatar, so a hash that could not be
// resolved is never fetched again.
package avatar
