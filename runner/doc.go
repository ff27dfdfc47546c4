// Package runner executes test assemblies. It dispatches collections onto a
// bounded worker pool, runs the cases of each collection serially, reports
// every lifecycle event to a message bus and watches for long running tests.
//
// Message order within one collection is:
//
//	CollectionStarting
//	  ClassStarting
//	    MethodStarting
//	      TestCaseStarting, TestStarting, <result>, [TestCleanupFailure], TestFinished, TestCaseFinished
//	    MethodFinished
//	  [ClassCleanupFailure]
//	  ClassFinished
//	[CollectionCleanupFailure]
//	CollectionFinished
//
// Class and method messages are omitted for cases without a class or method.
package runner
