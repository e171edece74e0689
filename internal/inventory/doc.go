// Package inventory defines the device inventory data model: immutable
// snapshots of device descriptors and the account API boundary they are
// fetched across.
//
// A Snapshot is produced either by the external account collaborator or
// loaded from the local cache. Descriptors carry only static,
// capability-relevant fields; live state (connectivity, lifecycle) is
// owned by the fleet package.
package inventory
