// Package server implements a replication server for one replicated
// suffix.
//
// Directory servers connect with a ServerStartMsg. The server answers with
// a ReplServerStartMsg, or a ReplServerStartDSMsg from V4 on, at the
// version both sides speak, then waits for the StartSessionMsg. From then
// on every update a directory server publishes is forwarded to the other
// connected directory servers, each behind its own send window.
//
// Assured updates are acknowledged as follows. Safe data updates are
// acknowledged once received; levels above 1 report a timeout since no
// other replication server holds the change. Safe read updates are
// acknowledged once every other directory server in normal status acked
// its replay, or after Config.AssuredTimeout.
//
//	srv := server.New(server.Config{ServerID: 1, BaseDN: "dc=example,dc=com"})
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Close()
package server
