package repository

// SetupTestDB は外部テストパッケージ向けに setupTestDB を公開する。
var SetupTestDB = setupTestDB

var InsertNamespace = insertNamespace
